package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"pkt.systems/cortex/schema"
)

// wsRequest is a renderer command. ID is echoed verbatim in the reply.
type wsRequest struct {
	ID      json.RawMessage `json:"id"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type wsReply struct {
	ID     json.RawMessage   `json:"id"`
	OK     bool              `json:"ok"`
	Result any               `json:"result,omitempty"`
	Error  *schema.WireError `json:"error,omitempty"`
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("ipc websocket upgrade failed", "err", err)
		return
	}
	lastID := parseUint(r.URL.Query().Get("lastEventId"))
	events, replay, unsubscribe := s.hub.Subscribe(lastID, parseTopics(r))
	defer unsubscribe()
	log.Info("ipc websocket opened", "last_id", lastID, "replay", len(replay))

	out := make(chan any, subscriberDepth)
	queue := make(chan wsRequest, subscriberDepth)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		defer close(queue)
		return s.wsReadLoop(ctx, conn, queue, out)
	})
	g.Go(func() error {
		s.wsDispatch(ctx, queue, out)
		return nil
	})
	g.Go(func() error {
		defer conn.Close()
		return s.wsWriteLoop(ctx, conn, replay, events, out)
	})
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Debug("ipc websocket ended", "err", err)
	}
	log.Info("ipc websocket closed")
}

// wsReadLoop decodes requests and queues them in arrival order. A full queue
// stops reading from the socket.
func (s *Server) wsReadLoop(ctx context.Context, conn *websocket.Conn, queue chan<- wsRequest, out chan<- any) error {
	deadline := 2 * s.cfg.KeepaliveInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return context.Canceled
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Command == "" {
			reply(ctx, out, wsReply{ID: req.ID, Error: schema.ToWire(schema.BadArgument("command", "malformed request"))})
			continue
		}
		select {
		case queue <- req:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// wsDispatch invokes one request at a time so a connection's commands reach
// their sessions in the order the renderer sent them.
func (s *Server) wsDispatch(ctx context.Context, queue <-chan wsRequest, out chan<- any) {
	for req := range queue {
		if ctx.Err() != nil {
			continue
		}
		result, err := s.invoker.Invoke(ctx, req.Command, req.Params)
		if err != nil {
			reply(ctx, out, wsReply{ID: req.ID, Error: schema.ToWire(err)})
			continue
		}
		reply(ctx, out, wsReply{ID: req.ID, OK: true, Result: result})
	}
}

func reply(ctx context.Context, out chan<- any, msg wsReply) {
	select {
	case out <- msg:
	case <-ctx.Done():
	}
}

func (s *Server) wsWriteLoop(ctx context.Context, conn *websocket.Conn, replay []schema.Event, events <-chan schema.Event, out <-chan any) error {
	write := func(msg any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(msg)
	}
	for _, event := range replay {
		if err := write(event); err != nil {
			return err
		}
	}
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "backend stopping"),
				time.Now().Add(time.Second))
			return ctx.Err()
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := write(event); err != nil {
				return err
			}
		case msg := <-out:
			if err := write(msg); err != nil {
				return err
			}
		}
	}
}
