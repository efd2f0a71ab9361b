// Package session implements the per-connection state machine from
// spec.md §4.3: Accepted -> Registered -> Closing -> Closed, inbound
// message dispatch, and the outbound pump from §4.5.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flavio-simonelli/proxchat/internal/logger"
	"github.com/flavio-simonelli/proxchat/internal/metrics"
	"github.com/flavio-simonelli/proxchat/internal/model"
	"github.com/flavio-simonelli/proxchat/internal/relay"
	"github.com/flavio-simonelli/proxchat/internal/telemetry"
	"github.com/flavio-simonelli/proxchat/internal/wire"
	"github.com/flavio-simonelli/proxchat/internal/world"
)

// State names a Connection Session's position in its lifecycle.
type State int

const (
	Accepted State = iota
	Registered
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Registered:
		return "registered"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport abstracts the WebSocket connection so the session machine
// can be exercised without a real socket.
type Transport interface {
	ReadMessage() (messageType int, payload []byte, err error)
	WriteMessage(messageType int, payload []byte) error
	Close() error
}

// Frame type constants mirror gorilla/websocket's TextMessage and
// BinaryMessage so callers can pass them straight through without this
// package importing the transport library.
const (
	TextFrame   = 1
	BinaryFrame = 2
)

// Session drives one accepted connection through its lifecycle. One
// Session is created per accepted transport; Run blocks until the
// connection is fully torn down.
type Session struct {
	id        model.ConnID
	transport Transport
	world     *world.State
	relay     *relay.Router
	log       logger.Logger
	iceLimit  *rate.Limiter
	metrics   *metrics.Metrics

	mu               sync.Mutex
	state            State
	registeredClient model.ClientID

	sink *world.Sink
}

// Config carries the knobs a Session needs that come from the process
// configuration rather than from the connection itself.
type Config struct {
	SinkCapacity      int
	IceCandidateRate  float64
	IceCandidateBurst int
}

// New creates a Session for a freshly accepted transport and registers
// its sink with the world state. m may be nil to disable metrics.
func New(id model.ConnID, t Transport, w *world.State, r *relay.Router, log logger.Logger, cfg Config, m *metrics.Metrics) *Session {
	s := &Session{
		id:        id,
		transport: t,
		world:     w,
		relay:     r,
		log:       log.Named("session").With(logger.F("conn_id", string(id))),
		iceLimit:  rate.NewLimiter(rate.Limit(cfg.IceCandidateRate), cfg.IceCandidateBurst),
		metrics:   m,
		state:     Accepted,
	}
	s.sink = w.RegisterConnection(id, cfg.SinkCapacity, func() { _ = t.Close() })
	return s
}

// Run starts the outbound pump and drains inbound frames until the
// transport closes, an explicit Disconnect arrives, or ctx is
// cancelled. It always runs cleanup before returning, then stops the
// outbound pump and writes out any messages still queued on the sink.
func (s *Session) Run(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.ConnectionsAccepted.Inc()
		s.metrics.ConnectionsActive.Inc()
		defer s.metrics.ConnectionsActive.Dec()
	}

	pumpCtx, stopPump := context.WithCancel(ctx)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.outboundPump(pumpCtx)
	}()

	s.inboundLoop(ctx)

	// Cleanup does not block on the pump: it may still be mid-write.
	s.cleanup()
	stopPump()
	<-pumpDone
	for {
		select {
		case msg := <-s.sink.Receive():
			encoded, err := msg.Encode()
			if err == nil && s.transport.WriteMessage(TextFrame, encoded) != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) inboundLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, payload, err := s.transport.ReadMessage()
		if err != nil {
			s.log.Debug("transport read ended", logger.F("error", err.Error()))
			s.setState(Closing)
			return
		}
		if msgType == BinaryFrame {
			s.log.Debug("ignoring binary frame")
			continue
		}

		env, err := wire.Decode(payload)
		if err != nil {
			s.log.Warn("malformed frame", logger.F("error", err.Error()))
			s.replyError("malformed frame")
			continue
		}

		_, span := telemetry.StartMessageSpan(ctx, env.Type)
		action := s.handle(env)
		span.End()

		if action == stopLoop {
			return
		}
	}
}

type loopAction int

const (
	continueLoop loopAction = iota
	stopLoop
)

func (s *Session) handle(env wire.Envelope) loopAction {
	st := s.getState()

	// Any non-UpdatePosition message arriving while still Accepted is
	// a protocol error; the connection is not torn down for it, it
	// just stays Accepted waiting for a valid registration.
	if st == Accepted && env.Type != wire.TagUpdatePosition {
		s.replyError(fmt.Sprintf("expected UpdatePosition to register, got %q", env.Type))
		return continueLoop
	}

	switch env.Type {
	case wire.TagUpdatePosition:
		return s.handleUpdatePosition(env)
	case wire.TagRequestPeerRefresh:
		return s.handleRequestPeerRefresh(st)
	case wire.TagSendOffer:
		return s.handleSendOffer(env, st)
	case wire.TagSendAnswer:
		return s.handleSendAnswer(env, st)
	case wire.TagSendIceCandidate:
		return s.handleSendIceCandidate(env, st)
	case wire.TagDisconnect:
		s.setState(Closing)
		return stopLoop
	default:
		s.replyError(fmt.Sprintf("unsupported message type %q", env.Type))
		return continueLoop
	}
}

func (s *Session) handleUpdatePosition(env wire.Envelope) loopAction {
	var data wire.UpdatePositionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.replyError("malformed UpdatePosition payload")
		return continueLoop
	}
	clientID := model.ClientID(data.ClientID)

	st := s.getState()
	if st == Registered && clientID != s.registeredClient {
		s.log.Info("ignoring UpdatePosition for unregistered client id on this connection",
			logger.F("client_id", data.ClientID))
		return continueLoop
	}

	if st == Accepted {
		s.world.Reregister(clientID, s.id)
		s.setRegistered(clientID)
	}

	pos := model.Position{
		ClientID: clientID,
		MapID:    data.MapID,
		Channel:  data.Channel,
		GameID:   data.GameID,
		X:        data.X,
		Y:        data.Y,
	}
	notify := s.world.ApplyPosition(s.id, pos, time.Now())
	for _, target := range notify {
		s.world.Deliver(target)
	}
	return continueLoop
}

func (s *Session) handleRequestPeerRefresh(st State) loopAction {
	if st != Registered {
		return continueLoop
	}
	ids := s.world.PeekNearby(s.registeredClient)
	s.enqueueSelf(wire.NearbyPeers(ids))
	return continueLoop
}

func (s *Session) handleSendOffer(env wire.Envelope, st State) loopAction {
	if st != Registered {
		s.replyError("SendOffer requires a registered client")
		return continueLoop
	}
	var data wire.SendOfferData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.replyError("malformed SendOffer payload")
		return continueLoop
	}
	if out := s.relay.Offer(s.registeredClient, model.ClientID(data.TargetID), data.Offer); out != relay.Delivered {
		s.replyError(fmt.Sprintf("cannot reach target %s", data.TargetID))
	}
	return continueLoop
}

func (s *Session) handleSendAnswer(env wire.Envelope, st State) loopAction {
	if st != Registered {
		s.replyError("SendAnswer requires a registered client")
		return continueLoop
	}
	var data wire.SendAnswerData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.replyError("malformed SendAnswer payload")
		return continueLoop
	}
	if out := s.relay.Answer(s.registeredClient, model.ClientID(data.TargetID), data.Answer); out != relay.Delivered {
		s.replyError(fmt.Sprintf("cannot reach target %s", data.TargetID))
	}
	return continueLoop
}

func (s *Session) handleSendIceCandidate(env wire.Envelope, st State) loopAction {
	if st != Registered {
		// Candidates are best-effort; drop silently rather than erroring.
		return continueLoop
	}
	if !s.iceLimit.Allow() {
		s.log.Debug("ice candidate rate limited", logger.F("client_id", string(s.registeredClient)))
		return continueLoop
	}
	var data wire.SendIceCandidateData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return continueLoop
	}
	// Lookup failures for candidates are silently dropped, per spec.md §4.3.
	s.relay.IceCandidate(s.registeredClient, model.ClientID(data.TargetID), data.Candidate)
	return continueLoop
}

func (s *Session) replyError(msg string) {
	s.enqueueSelf(wire.ErrorMessage(msg))
}

func (s *Session) enqueueSelf(msg wire.Outbound) {
	if !s.sink.TrySend(msg) {
		s.log.Warn("own sink full, dropping reply", logger.F("type", msg.Type))
	}
}

func (s *Session) outboundPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.sink.Receive():
			if !ok {
				return
			}
			encoded, err := msg.Encode()
			if err != nil {
				s.log.Error("failed to encode outbound message", logger.F("error", err.Error()))
				continue
			}
			if err := s.transport.WriteMessage(TextFrame, encoded); err != nil {
				s.log.Debug("transport write failed, stopping pump", logger.F("error", err.Error()))
				return
			}
		}
	}
}

// cleanup runs the §4.3 teardown: always drop this connection's own
// entry, and if it ever completed registration, reap its client-keyed
// state unless a newer connection has since taken over the same
// client id.
func (s *Session) cleanup() {
	st := s.getState()
	clientID := s.getRegisteredClient()
	s.world.CleanupConnection(s.id, clientID, st == Registered)
	s.setState(Closed)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setRegistered(clientID model.ClientID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Registered
	s.registeredClient = clientID
}

func (s *Session) getRegisteredClient() model.ClientID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registeredClient
}
