// Package relay implements the signaling relay router described in
// spec.md §4.4: it resolves a target client id to a live connection's
// sink and enqueues the translated message, without ever inspecting
// the opaque offer/answer/candidate payloads it carries.
package relay

import (
	"github.com/flavio-simonelli/proxchat/internal/logger"
	"github.com/flavio-simonelli/proxchat/internal/metrics"
	"github.com/flavio-simonelli/proxchat/internal/model"
	"github.com/flavio-simonelli/proxchat/internal/wire"
	"github.com/flavio-simonelli/proxchat/internal/world"
)

// Outcome reports what happened to a relay attempt, so the caller can
// decide whether the sender needs an Error reply.
type Outcome int

const (
	// Delivered means the message was enqueued on the target's sink.
	Delivered Outcome = iota
	// TargetNotFound means target_id has no live registration.
	TargetNotFound
	// SinkFull means the target was found but its queue was saturated.
	SinkFull
)

// Router relays the three signaling message kinds between registered
// clients.
type Router struct {
	world   *world.State
	log     logger.Logger
	metrics *metrics.Metrics
}

// New constructs a Router. m may be nil, in which case relay outcomes
// are not recorded anywhere but the log.
func New(w *world.State, log logger.Logger, m *metrics.Metrics) *Router {
	return &Router{world: w, log: log.Named("relay"), metrics: m}
}

func (r *Router) resolve(target model.ClientID) (*world.Sink, bool) {
	sink, _, ok := r.world.SinkFor(target)
	return sink, ok
}

// Offer relays a SendOffer as a ReceiveOffer stamped with sender.
func (r *Router) Offer(sender, target model.ClientID, offer string) Outcome {
	return r.deliver("offer", sender, target, wire.ReceiveOffer(string(sender), offer))
}

// Answer relays a SendAnswer as a ReceiveAnswer stamped with sender.
func (r *Router) Answer(sender, target model.ClientID, answer string) Outcome {
	return r.deliver("answer", sender, target, wire.ReceiveAnswer(string(sender), answer))
}

// IceCandidate relays a SendIceCandidate as a ReceiveIceCandidate
// stamped with sender. Candidates are high-volume and best-effort:
// callers must not surface an Error to the sender on any Outcome
// other than Delivered, per spec.md §4.3.
func (r *Router) IceCandidate(sender, target model.ClientID, candidate string) Outcome {
	return r.deliver("candidate", sender, target, wire.ReceiveIceCandidate(string(sender), candidate))
}

func (r *Router) deliver(kind string, sender, target model.ClientID, msg wire.Outbound) Outcome {
	sink, ok := r.resolve(target)
	if !ok {
		r.log.Debug("relay target not registered",
			logger.F("sender", string(sender)), logger.F("target", string(target)), logger.F("type", msg.Type))
		r.record(kind, "not_found")
		return TargetNotFound
	}
	if !sink.TrySend(msg) {
		r.log.Warn("relay target sink full",
			logger.F("sender", string(sender)), logger.F("target", string(target)), logger.F("type", msg.Type))
		r.record(kind, "sink_full")
		return SinkFull
	}
	r.record(kind, "delivered")
	return Delivered
}

func (r *Router) record(kind, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RelayMessagesTotal.WithLabelValues(kind, outcome).Inc()
}
