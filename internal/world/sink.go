package world

import "github.com/flavio-simonelli/proxchat/internal/wire"

// Sink is a bounded per-connection outbound queue. A full sink drops
// the message being sent rather than blocking the caller or tearing
// down the connection, per spec.
type Sink struct {
	messages chan wire.Outbound
}

// NewSink allocates a sink with the given capacity.
func NewSink(capacity int) *Sink {
	return &Sink{messages: make(chan wire.Outbound, capacity)}
}

// TrySend enqueues msg, returning false if the sink is full.
func (s *Sink) TrySend(msg wire.Outbound) bool {
	select {
	case s.messages <- msg:
		return true
	default:
		return false
	}
}

// Receive exposes the channel for the outbound pump to drain.
func (s *Sink) Receive() <-chan wire.Outbound {
	return s.messages
}
