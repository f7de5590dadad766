package dap

import (
	"encoding/json"

	"github.com/google/go-dap"

	"pkt.systems/cortex/internal/jsonrpc"
	"pkt.systems/cortex/schema"
)

func (s *Session) dispatch(in jsonrpc.Incoming) {
	switch in.Kind {
	case jsonrpc.Notification:
		s.event(in.Method, in.Params)
	case jsonrpc.Request:
		s.reverseRequest(int(in.ID), in.Method, in.Params)
	}
}

// event tracks status from lifecycle events and forwards every event.
func (s *Session) event(name string, body json.RawMessage) {
	switch name {
	case "initialized":
		s.initOnce.Do(func() { close(s.initialized) })
	case "stopped":
		var stopped dap.StoppedEventBody
		_ = json.Unmarshal(body, &stopped)
		s.logger.Debug("dap stopped", "reason", stopped.Reason, "thread", stopped.ThreadId)
		s.setStatus(schema.DAPStopped)
	case "continued":
		s.setStatus(schema.DAPRunning)
	case "terminated":
		s.setStatus(schema.DAPTerminated)
	case "capabilities":
		s.mergeCapabilities(body)
	case "output":
		s.logger.Trace("dap output", "bytes", len(body))
	}
	evt := schema.DAPEvent{SessionID: s.id, Event: name}
	if !jsonrpc.IsNull(body) {
		evt.Body = schema.RawJSON(body)
	}
	if err := s.sink.Emit(schema.DAPEventTopic(s.id), evt); err != nil {
		s.logger.Debug("dap event emit failed", "event", name, "err", err)
	}
}

func (s *Session) mergeCapabilities(body json.RawMessage) {
	var update struct {
		Capabilities map[string]json.RawMessage `json:"capabilities"`
	}
	if json.Unmarshal(body, &update) != nil || len(update.Capabilities) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := map[string]json.RawMessage{}
	if !jsonrpc.IsNull(s.caps) {
		_ = json.Unmarshal(s.caps, &merged)
	}
	for k, v := range update.Capabilities {
		merged[k] = v
	}
	if raw, err := json.Marshal(merged); err == nil {
		s.caps = raw
	}
}

// reverseRequest remembers the command and forwards it to the renderer,
// which answers through Respond.
func (s *Session) reverseRequest(seq int, command string, args json.RawMessage) {
	s.mu.Lock()
	s.reverse[seq] = command
	s.mu.Unlock()
	s.logger.Info("dap reverse request", "command", command, "seq", seq)
	evt := schema.DAPReverseRequestEvent{SessionID: s.id, Seq: seq, Command: command}
	if !jsonrpc.IsNull(args) {
		evt.Arguments = schema.RawJSON(args)
	}
	if err := s.sink.Emit(schema.TopicDAPReverseRequest, evt); err != nil {
		s.logger.Warn("dap reverse request emit failed", "command", command, "err", err)
	}
}
