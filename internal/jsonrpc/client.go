// Package jsonrpc implements the request correlation core shared by the LSP
// and DAP clients. The wire shape of each message is left to an Envelope.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"pkt.systems/cortex/internal/framing"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// Kind classifies an incoming message.
type Kind int

const (
	// Response answers one of our requests.
	Response Kind = iota + 1
	// Notification is a one-way message from the peer.
	Notification
	// Request is a peer-initiated request expecting an answer.
	Request
)

// Incoming is a decoded peer message.
type Incoming struct {
	Kind Kind
	// ID correlates a Response with the request that produced it.
	ID int64
	// RawID is the peer's id for a Request, echoed back in the reply.
	RawID  json.RawMessage
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Err    error
	Raw    json.RawMessage
}

// Envelope encodes outgoing requests and classifies incoming frames.
type Envelope interface {
	EncodeRequest(id int64, method string, params any) any
	Decode(raw json.RawMessage) (Incoming, error)
}

// Handler receives notifications and peer requests on the reader goroutine,
// in wire order. It must not block on the client.
type Handler func(in Incoming)

type reply struct {
	result json.RawMessage
	err    error
}

// Client correlates requests with responses over one framed stream.
type Client struct {
	env     Envelope
	w       *framing.Writer
	handler Handler
	logger  pslog.Logger

	seq atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan reply
	closed  bool
	err     error
	done    chan struct{}
}

// NewClient wires a client to r and w. Call Run to start reading.
func NewClient(r io.Reader, w io.Writer, env Envelope, handler Handler, logger pslog.Logger) *Client {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	c := &Client{
		env:     env,
		w:       framing.NewWriter(w),
		handler: handler,
		logger:  logger,
		pending: make(map[int64]chan reply),
		done:    make(chan struct{}),
	}
	go c.read(framing.NewReader(r))
	return c
}

// NextID allocates the next sequence number. Numbering starts at 1.
func (c *Client) NextID() int64 {
	return c.seq.Add(1)
}

// Done is closed once the stream ended or Close was called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the client stopped.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send writes a pre-encoded message.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	closed, cerr := c.closed, c.err
	c.mu.Unlock()
	if closed {
		return cerr
	}
	if err := c.w.Write(v); err != nil {
		return schema.TransportClosed(err)
	}
	return nil
}

// Call sends method and decodes the result into out, which may be nil.
// A JSON null result leaves out untouched.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	raw, err := c.CallRaw(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || IsNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return schema.Protocol("decode "+method+" result", err)
	}
	return nil
}

// CallRaw sends method and returns the undecoded result.
func (c *Client) CallRaw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.NextID()
	ch := make(chan reply, 1)
	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.w.Write(c.env.EncodeRequest(id, method, params)); err != nil {
		c.forget(id)
		return nil, schema.TransportClosed(err)
	}
	c.logger.Trace("rpc request", "id", id, "method", method)

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		c.forget(id)
		return nil, schema.FromContext(ctx.Err())
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Pending reports the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close fails every outstanding request with Cancelled and stops accepting
// new ones. The underlying streams are owned by the caller.
func (c *Client) Close() {
	c.shutdown(schema.Cancelled("request"))
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	pending := c.pending
	c.pending = make(map[int64]chan reply)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- reply{err: err}
	}
	close(c.done)
}

func (c *Client) read(fr *framing.Reader) {
	for {
		raw, err := fr.Next()
		if err != nil {
			c.readFailed(err)
			return
		}
		in, err := c.env.Decode(raw)
		if err != nil {
			c.logger.Warn("rpc message dropped", "err", err)
			continue
		}
		switch in.Kind {
		case Response:
			c.deliver(in)
		case Notification, Request:
			if c.handler != nil {
				c.handler(in)
			}
		}
	}
}

func (c *Client) deliver(in Incoming) {
	c.mu.Lock()
	ch, ok := c.pending[in.ID]
	delete(c.pending, in.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("rpc response for unknown id", "id", in.ID)
		return
	}
	ch <- reply{result: in.Result, err: in.Err}
}

func (c *Client) readFailed(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, framing.ErrUnexpectedEOF), errors.Is(err, framing.ErrTruncatedBody):
		c.shutdown(schema.TransportClosed(err))
	case errors.Is(err, framing.ErrMissingContentLength), errors.Is(err, framing.ErrInvalidContentLength),
		errors.Is(err, framing.ErrInvalidUTF8), errors.Is(err, framing.ErrInvalidJSON):
		c.logger.Warn("rpc stream corrupt", "err", err)
		c.shutdown(schema.Protocol("framing", err))
	default:
		c.shutdown(schema.TransportClosed(err))
	}
}

// IsNull reports whether raw is absent or the JSON literal null.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
