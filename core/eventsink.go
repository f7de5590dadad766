package core

import "errors"

// ErrSinkClosed is returned by an EventSink whose renderer has gone away.
var ErrSinkClosed = errors.New("event sink closed")

// EventSink receives topic events destined for the renderer.
type EventSink interface {
	Emit(topic string, payload any) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(topic string, payload any) error

// Emit calls f.
func (f EventSinkFunc) Emit(topic string, payload any) error {
	return f(topic, payload)
}

// DiscardSink drops every event.
type DiscardSink struct{}

// Emit drops the event.
func (DiscardSink) Emit(string, any) error { return nil }
