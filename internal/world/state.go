// Package world holds the server's shared in-memory state: the set of
// registered clients, their positions, and the bookkeeping needed to
// plan and deliver nearby-peer notifications. It follows the same
// RWMutex-guarded map pattern as a routing table entry: fast read
// paths take RLock, writes take Lock, and nothing escapes the lock
// except copies.
package world

import (
	"sync"
	"time"

	"github.com/flavio-simonelli/proxchat/internal/logger"
	"github.com/flavio-simonelli/proxchat/internal/metrics"
	"github.com/flavio-simonelli/proxchat/internal/model"
	"github.com/flavio-simonelli/proxchat/internal/proximity"
	"github.com/flavio-simonelli/proxchat/internal/wire"
)

// connEntry bundles a connection's outbound sink with a way to force
// its transport closed. Eviction never closes the sink channel
// directly (concurrent TrySend calls would panic); it calls kill and
// lets the connection's own read loop notice and clean up after
// itself.
type connEntry struct {
	sink *Sink
	kill func()
}

// State is the server's single shared world. All five indexes are
// protected by one mutex: they are small, and a planning pass touches
// several of them together, so splitting the lock would buy nothing
// but ABA bugs.
type State struct {
	mu      sync.RWMutex
	radii   model.Radii
	log     logger.Logger
	metrics *metrics.Metrics

	positions    map[model.ClientID]model.Position
	lastUpdate   map[model.ClientID]time.Time
	lastNearby   map[model.ClientID]map[model.ClientID]struct{}
	clientToConn map[model.ClientID]model.ConnID
	conns        map[model.ConnID]*connEntry
}

func New(radii model.Radii, log logger.Logger) *State {
	return &State{
		radii:        radii,
		log:          log.Named("world"),
		positions:    make(map[model.ClientID]model.Position),
		lastUpdate:   make(map[model.ClientID]time.Time),
		lastNearby:   make(map[model.ClientID]map[model.ClientID]struct{}),
		clientToConn: make(map[model.ClientID]model.ConnID),
		conns:        make(map[model.ConnID]*connEntry),
	}
}

// WithMetrics attaches a Metrics bundle, enabling notification and
// registration-gauge instrumentation. Call once during startup.
func (s *State) WithMetrics(m *metrics.Metrics) *State {
	s.metrics = m
	return s
}

// RegisterConnection creates the sink for a newly accepted connection.
// It does not bind any client id; that happens on the first
// UpdatePosition via Reregister.
func (s *State) RegisterConnection(connID model.ConnID, sinkCapacity int, kill func()) *Sink {
	sink := NewSink(sinkCapacity)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[connID] = &connEntry{sink: sink, kill: kill}
	return sink
}

// Reregister binds clientID to connID, displacing any prior
// connection's binding for the same client id. The prior connection
// is left untouched (its own teardown removes it from conns later);
// only clientID's client-keyed state is reaped here, and it is purged
// from every other client's cached nearby set so peers re-introduce
// it on their next planning pass or the sweeper's tick.
func (s *State) Reregister(clientID model.ClientID, connID model.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.clientToConn[clientID]; ok && prior != connID {
		s.cleanupClientLocked(clientID)
		s.purgeFromPeersLocked(clientID)
	}
	s.clientToConn[clientID] = connID
}

// ApplyPosition implements the notification planner (spec.md's §4.2):
// it writes the new position, recomputes the mover's nearby set under
// the hysteresis rule, and for every peer newly gained by the move,
// checks whether that peer's own recomputed set now (but did not
// before) contain the mover — a symmetric introduction. It returns the
// client ids that must be sent a fresh NearbyPeers notification; the
// caller delivers these after releasing the lock, per §4.2 step 6.
func (s *State) ApplyPosition(connID model.ConnID, pos model.Position, now time.Time) []model.ClientID {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := pos.ClientID
	s.positions[m] = pos
	s.lastUpdate[m] = now

	prevNearby := s.lastNearby[m]
	next := proximity.ToSet(proximity.Nearby(pos, s.candidatePositionsLocked(m), prevNearby, s.radii))
	added := setDiff(next, prevNearby)
	dropped := setDiff(prevNearby, next)

	var notify []model.ClientID
	if len(added) > 0 || len(dropped) > 0 {
		s.lastNearby[m] = next
		notify = append(notify, m)
	}

	for p := range added {
		peerPos, ok := s.positions[p]
		if !ok {
			continue
		}
		peerPrev := s.lastNearby[p]
		peerNext := proximity.ToSet(proximity.Nearby(peerPos, s.candidatePositionsLocked(p), peerPrev, s.radii))
		_, peerHadM := peerPrev[m]
		_, peerHasM := peerNext[m]
		if !peerHadM && peerHasM {
			s.lastNearby[p] = peerNext
			notify = append(notify, p)
		}
	}

	s.reportRegisteredLocked()
	return notify
}

// reportRegisteredLocked updates the registered-clients gauge. Callers
// must hold s.mu.
func (s *State) reportRegisteredLocked() {
	if s.metrics != nil {
		s.metrics.ClientsRegistered.Set(float64(len(s.positions)))
	}
}

// setDiff returns the members of a not present in b; either may be nil.
func setDiff(a, b map[model.ClientID]struct{}) map[model.ClientID]struct{} {
	out := make(map[model.ClientID]struct{})
	for id := range a {
		if _, ok := b[id]; !ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// purgeFromPeersLocked removes clientID from every other client's
// cached nearby set. Callers must hold s.mu for writing.
func (s *State) purgeFromPeersLocked(clientID model.ClientID) {
	for id, set := range s.lastNearby {
		if id == clientID {
			continue
		}
		delete(set, clientID)
	}
}

// candidatePositionsLocked snapshots every known position except the
// one named by self. Callers must hold s.mu.
func (s *State) candidatePositionsLocked(self model.ClientID) []model.Position {
	out := make([]model.Position, 0, len(s.positions))
	for id, p := range s.positions {
		if id == self {
			continue
		}
		out = append(out, p)
	}
	return out
}

// SnapshotNearby returns the currently cached nearby set for a client,
// as plain strings ready for a wire.NearbyPeers message. It does not
// recompute anything: this is the "refresh" delivery performs before
// sending, re-reading whatever the planner most recently wrote.
func (s *State) SnapshotNearby(clientID model.ClientID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return idsOf(s.lastNearby[clientID])
}

// PeekNearby is RequestPeerRefresh's read path: it recomputes the
// nearby set from the client's last known position under the current
// hysteresis rule, the same way Refresh does, but never writes the
// result back to last_nearby. A refresh must report the client's true
// current neighborhood — including peers that drifted away (or into
// range) purely because someone *else* moved, which last_nearby alone
// would not yet reflect — without itself triggering the planner's
// side effects, since an explicit refresh request carries no new
// position to plan against.
func (s *State) PeekNearby(clientID model.ClientID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[clientID]
	if !ok {
		return idsOf(s.lastNearby[clientID])
	}
	nearby := proximity.Nearby(pos, s.candidatePositionsLocked(clientID), s.lastNearby[clientID], s.radii)
	return stringIDs(nearby)
}

// Refresh recomputes a client's nearby set from its last known
// position and overwrites the cached value. It is the reintroduction
// pass's backstop: unlike PeekNearby, it is allowed to move
// last_nearby forward even though no new position arrived.
func (s *State) Refresh(clientID model.ClientID) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[clientID]
	if !ok {
		return nil, false
	}
	nearby := proximity.Nearby(pos, s.candidatePositionsLocked(clientID), s.lastNearby[clientID], s.radii)
	s.lastNearby[clientID] = proximity.ToSet(nearby)
	return stringIDs(nearby), true
}

// SinkFor resolves a client id to its current connection's sink, or
// false if the client has no live registration.
func (s *State) SinkFor(clientID model.ClientID) (*Sink, model.ConnID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	connID, ok := s.clientToConn[clientID]
	if !ok {
		return nil, "", false
	}
	entry, ok := s.conns[connID]
	if !ok {
		return nil, "", false
	}
	return entry.sink, connID, true
}

// CleanupConnection tears down everything a connection owned. The
// clientID it was registered under (if any) must be supplied by the
// caller's session bookkeeping, since a connection may never have
// completed registration.
//
// Client-keyed state (positions, lastUpdate, lastNearby,
// clientToConn) is removed only if clientToConn still points at this
// connID: if a newer connection has since re-registered the same
// client id, that newer state must survive this connection's delayed
// cleanup untouched.
func (s *State) CleanupConnection(connID model.ConnID, clientID model.ClientID, hadClient bool) {
	s.cleanupConnectionReason(connID, clientID, hadClient, "closed")
}

// CleanupConnectionTimeout is CleanupConnection labeled for the
// sweeper's timeout pass, so evictions_total distinguishes ordinary
// disconnects from liveness timeouts.
func (s *State) CleanupConnectionTimeout(connID model.ConnID, clientID model.ClientID) {
	s.cleanupConnectionReason(connID, clientID, true, "timeout")
}

func (s *State) cleanupConnectionReason(connID model.ConnID, clientID model.ClientID, hadClient bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, connID)
	if !hadClient {
		return
	}
	if s.clientToConn[clientID] != connID {
		return
	}
	s.cleanupClientLocked(clientID)
	s.purgeFromPeersLocked(clientID)
	s.reportRegisteredLocked()
	if s.metrics != nil {
		s.metrics.EvictionsTotal.WithLabelValues(reason).Inc()
	}
}

// cleanupClientLocked removes all client-keyed state. Callers must
// hold s.mu and must have already verified ownership.
func (s *State) cleanupClientLocked(clientID model.ClientID) {
	delete(s.positions, clientID)
	delete(s.lastUpdate, clientID)
	delete(s.lastNearby, clientID)
	delete(s.clientToConn, clientID)
}

// TimedOutClients returns the client ids whose last update is older
// than deadline, for the sweeper's timeout pass, along with the
// connection id each was registered under so the sweeper can kill the
// transport.
func (s *State) TimedOutClients(olderThan time.Time) []ClientConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ClientConn
	for id, last := range s.lastUpdate {
		if last.Before(olderThan) {
			if connID, ok := s.clientToConn[id]; ok {
				out = append(out, ClientConn{ClientID: id, ConnID: connID})
			}
		}
	}
	return out
}

// ClientConn pairs a client id with the connection it is currently
// registered under.
type ClientConn struct {
	ClientID model.ClientID
	ConnID   model.ConnID
}

// Kill forces the transport for connID closed, if it still exists.
// Used by the sweeper's timeout pass after TimedOutClients identifies
// a stale registration.
func (s *State) Kill(connID model.ConnID) {
	s.mu.RLock()
	entry, ok := s.conns[connID]
	s.mu.RUnlock()
	if ok && entry.kill != nil {
		entry.kill()
	}
}

// AllClientIDs returns every currently registered client id, a
// snapshot for the sweeper's reintroduction pass.
func (s *State) AllClientIDs() []model.ClientID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ClientID, 0, len(s.positions))
	for id := range s.positions {
		out = append(out, id)
	}
	return out
}

func idsOf(set map[model.ClientID]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, string(id))
	}
	return out
}

func stringIDs(ids []model.ClientID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// Deliver enqueues a NearbyPeers notification built from the current
// snapshot for clientID, dropping it silently if the sink is full
// (spec: a full sink drops the newest message rather than blocking).
func (s *State) Deliver(clientID model.ClientID) {
	sink, _, ok := s.SinkFor(clientID)
	if !ok {
		return
	}
	ids := s.SnapshotNearby(clientID)
	if !sink.TrySend(wire.NearbyPeers(ids)) {
		s.log.Warn("sink full, dropping notification", logger.F("client_id", string(clientID)))
		return
	}
	if s.metrics != nil {
		s.metrics.NotificationsTotal.Inc()
	}
}
