package dap

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-dap"

	"pkt.systems/cortex/internal/jsonrpc"
	"pkt.systems/cortex/schema"
)

type request struct {
	dap.Request
	Arguments any `json:"arguments,omitempty"`
}

type response struct {
	dap.Response
	Body any `json:"body,omitempty"`
}

type message struct {
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	Command    string          `json:"command"`
	Arguments  json.RawMessage `json:"arguments"`
	RequestSeq int             `json:"request_seq"`
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Event      string          `json:"event"`
	Body       json.RawMessage `json:"body"`
}

type errorBody struct {
	Error *struct {
		ID     int    `json:"id"`
		Format string `json:"format"`
	} `json:"error"`
}

// envelope frames DAP messages, classified by their type field.
type envelope struct{}

func (envelope) EncodeRequest(id int64, command string, args any) any {
	return request{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: int(id), Type: "request"},
			Command:         command,
		},
		Arguments: args,
	}
}

func (envelope) Decode(raw json.RawMessage) (jsonrpc.Incoming, error) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return jsonrpc.Incoming{}, err
	}
	switch m.Type {
	case "response":
		in := jsonrpc.Incoming{Kind: jsonrpc.Response, ID: int64(m.RequestSeq), Method: m.Command, Result: m.Body, Raw: raw}
		if !m.Success {
			in.Err = responseError(m)
		}
		return in, nil
	case "event":
		return jsonrpc.Incoming{Kind: jsonrpc.Notification, Method: m.Event, Params: m.Body, Raw: raw}, nil
	case "request":
		seq, _ := json.Marshal(m.Seq)
		return jsonrpc.Incoming{Kind: jsonrpc.Request, ID: int64(m.Seq), RawID: seq, Method: m.Command, Params: m.Arguments, Raw: raw}, nil
	default:
		return jsonrpc.Incoming{}, fmt.Errorf("unknown dap message type %q", m.Type)
	}
}

func responseError(m message) error {
	msg := m.Message
	var body errorBody
	if len(m.Body) > 0 && json.Unmarshal(m.Body, &body) == nil && body.Error != nil && body.Error.Format != "" {
		if msg == "" {
			msg = body.Error.Format
		} else {
			msg = msg + ": " + body.Error.Format
		}
	}
	if msg == "" {
		msg = m.Command + " failed"
	}
	return schema.Remote(m.Command, msg)
}
