package world

import (
	"testing"
	"time"

	"github.com/flavio-simonelli/proxchat/internal/logger"
	"github.com/flavio-simonelli/proxchat/internal/model"
	"github.com/flavio-simonelli/proxchat/internal/wire"
)

func newTestState() *State {
	return New(model.NewRadii(20, 25), &logger.NopLogger{})
}

func register(s *State, connID model.ConnID) *Sink {
	return s.RegisterConnection(connID, 8, func() {})
}

// update mirrors what the session layer does on every UpdatePosition:
// bind the client to the connection (a no-op for an already-bound
// client), then run the planner.
func update(s *State, connID model.ConnID, pos model.Position, now time.Time) []model.ClientID {
	s.Reregister(pos.ClientID, connID)
	return s.ApplyPosition(connID, pos, now)
}

func contains(ids []model.ClientID, want model.ClientID) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

// I1: the three client-keyed indexes have identical key sets after any
// sequence of registrations.
func TestCoherence(t *testing.T) {
	s := newTestState()
	register(s, "conn-a")
	register(s, "conn-b")
	update(s, "conn-a", model.Position{ClientID: "A", MapID: 1, X: 0, Y: 0}, time.Now())
	update(s, "conn-b", model.Position{ClientID: "B", MapID: 1, X: 5, Y: 0}, time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.positions) != len(s.lastUpdate) || len(s.positions) != len(s.lastNearby) {
		t.Fatalf("index sizes diverged: positions=%d lastUpdate=%d lastNearby=%d",
			len(s.positions), len(s.lastUpdate), len(s.lastNearby))
	}
	for id := range s.positions {
		if _, ok := s.lastUpdate[id]; !ok {
			t.Fatalf("client %s missing from lastUpdate", id)
		}
		if _, ok := s.lastNearby[id]; !ok {
			t.Fatalf("client %s missing from lastNearby", id)
		}
	}
}

// I2: a client never appears in its own cached nearby set.
func TestNoSelfNeighbor(t *testing.T) {
	s := newTestState()
	register(s, "conn-a")
	update(s, "conn-a", model.Position{ClientID: "A", MapID: 1, X: 0, Y: 0}, time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.lastNearby["A"]["A"]; ok {
		t.Fatalf("A appeared in its own cached nearby set")
	}
}

// I3: every entry in clientToConn names a connection that still
// exists, immediately after registration.
func TestReflexiveMapping(t *testing.T) {
	s := newTestState()
	register(s, "conn-a")
	update(s, "conn-a", model.Position{ClientID: "A", MapID: 1}, time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client, conn := range s.clientToConn {
		if _, ok := s.conns[conn]; !ok {
			t.Fatalf("client %s maps to missing connection %s", client, conn)
		}
	}
}

// I4: immediately after a position update, the planner names every
// newly-introduced peer whose own recomputed set now symmetrically
// contains the mover, so the caller can deliver to it.
func TestIntroductionSymmetryIsActionable(t *testing.T) {
	s := newTestState()
	register(s, "conn-a")
	sinkB := register(s, "conn-b")

	update(s, "conn-b", model.Position{ClientID: "B", MapID: 1, X: 10, Y: 0}, time.Now())
	notify := update(s, "conn-a", model.Position{ClientID: "A", MapID: 1, X: 0, Y: 0}, time.Now())

	if !contains(notify, "A") {
		t.Fatalf("expected mover A to be notified, got %v", notify)
	}
	if !contains(notify, "B") {
		t.Fatalf("expected symmetrically-introduced peer B to be notified, got %v", notify)
	}

	for _, id := range notify {
		s.Deliver(id)
	}
	select {
	case msg := <-sinkB.Receive():
		if msg.Type != wire.TagNearbyPeers {
			t.Fatalf("expected NearbyPeers, got %s", msg.Type)
		}
	default:
		t.Fatalf("expected a notification to have been enqueued for B")
	}
}

// P1: submitting the same position twice in succession yields no
// notifications on the second call (last_nearby is unchanged).
func TestRepeatedUpdateIsIdempotent(t *testing.T) {
	s := newTestState()
	register(s, "conn-a")
	register(s, "conn-b")
	update(s, "conn-b", model.Position{ClientID: "B", MapID: 1, X: 10, Y: 0}, time.Now())

	pos := model.Position{ClientID: "A", MapID: 1, X: 0, Y: 0}
	first := update(s, "conn-a", pos, time.Now())
	if !contains(first, "A") {
		t.Fatalf("expected first update to notify the mover, got %v", first)
	}

	second := update(s, "conn-a", pos, time.Now())
	if len(second) != 0 {
		t.Fatalf("expected repeated identical update to be a no-op, got %v", second)
	}
}

// P2: PeekNearby never mutates last_nearby.
func TestPeekNearbyDoesNotMutate(t *testing.T) {
	s := newTestState()
	register(s, "conn-a")
	register(s, "conn-b")
	update(s, "conn-b", model.Position{ClientID: "B", MapID: 1, X: 10, Y: 0}, time.Now())
	update(s, "conn-a", model.Position{ClientID: "A", MapID: 1, X: 0, Y: 0}, time.Now())

	before := s.PeekNearby("A")
	_ = s.PeekNearby("A")
	after := s.PeekNearby("A")
	if len(before) != len(after) {
		t.Fatalf("PeekNearby mutated state: %v vs %v", before, after)
	}
}

// P4: a client that disconnects and later reconnects with the same
// client id, at the same position, plans the same size nearby set a
// fresh client at that position would.
func TestReconnectMatchesFreshClient(t *testing.T) {
	s := newTestState()
	register(s, "conn-peer")
	update(s, "conn-peer", model.Position{ClientID: "P", MapID: 1, X: 10, Y: 0}, time.Now())

	connA1 := model.ConnID("conn-a-1")
	register(s, connA1)
	pos := model.Position{ClientID: "A", MapID: 1, X: 0, Y: 0}
	update(s, connA1, pos, time.Now())
	s.CleanupConnection(connA1, "A", true)

	connA2 := model.ConnID("conn-a-2")
	register(s, connA2)
	update(s, connA2, pos, time.Now())
	reconnectSet := s.PeekNearby("A")
	// A leaves again, so the fresh client joins the same world (only P
	// present) that A reconnected into.
	s.CleanupConnection(connA2, "A", true)

	connFresh := model.ConnID("conn-fresh")
	register(s, connFresh)
	update(s, connFresh, model.Position{ClientID: "F", MapID: 1, X: 0, Y: 0}, time.Now())
	freshSet := s.PeekNearby("F")

	if len(reconnectSet) != len(freshSet) {
		t.Fatalf("reconnect nearby set %v differs in size from fresh client's %v", reconnectSet, freshSet)
	}
}

// Re-registration (spec.md's Accepted-state UpdatePosition handling):
// a client id appearing on a new connection displaces the old
// connection's client-keyed state and purges the client from every
// peer's cached nearby set, without touching the old connection entry
// itself.
func TestReregistrationPurgesFromPeers(t *testing.T) {
	s := newTestState()
	connA1 := model.ConnID("conn-a-1")
	register(s, connA1)
	connPeer := model.ConnID("conn-peer")
	register(s, connPeer)

	update(s, connA1, model.Position{ClientID: "A", MapID: 1, X: 0, Y: 0}, time.Now())
	update(s, connPeer, model.Position{ClientID: "P", MapID: 1, X: 5, Y: 0}, time.Now())

	s.mu.RLock()
	_, peerSeesA := s.lastNearby["P"]["A"]
	s.mu.RUnlock()
	if !peerSeesA {
		t.Fatalf("test setup expected P to see A before re-registration")
	}

	connA2 := model.ConnID("conn-a-2")
	register(s, connA2)
	s.Reregister("A", connA2)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.positions["A"]; ok {
		t.Fatalf("expected A's stale position purged by re-registration")
	}
	if _, stillSeesA := s.lastNearby["P"]["A"]; stillSeesA {
		t.Fatalf("expected A purged from P's cached nearby set by re-registration")
	}
	if s.clientToConn["A"] != connA2 {
		t.Fatalf("expected A bound to the new connection")
	}
	if _, ok := s.conns[connA1]; !ok {
		t.Fatalf("expected the old connection entry to survive re-registration untouched")
	}
}

// Displaced-connection semantics: a stale connection's late cleanup
// must not clobber a newer registration of the same client id.
func TestDisplacedConnectionCleanupDoesNotClobberNewRegistration(t *testing.T) {
	s := newTestState()
	staleConn := model.ConnID("stale")
	register(s, staleConn)
	update(s, staleConn, model.Position{ClientID: "A", MapID: 1, X: 0, Y: 0}, time.Now())

	freshConn := model.ConnID("fresh")
	register(s, freshConn)
	s.Reregister("A", freshConn)
	update(s, freshConn, model.Position{ClientID: "A", MapID: 1, X: 5, Y: 5}, time.Now())

	// The stale connection's cleanup runs after displacement; it must
	// be a no-op against client-keyed state since clientToConn now
	// points at freshConn.
	s.CleanupConnection(staleConn, "A", true)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.positions["A"]; !ok {
		t.Fatalf("stale connection's cleanup erased the live registration's position")
	}
	if s.clientToConn["A"] != freshConn {
		t.Fatalf("clientToConn no longer points at the live connection")
	}
}

// CleanupConnection on a live (non-displaced) connection does remove
// its client-keyed state, preserving I1 (no dangling keys).
func TestCleanupRemovesOwnedClientState(t *testing.T) {
	s := newTestState()
	conn := model.ConnID("conn-a")
	register(s, conn)
	update(s, conn, model.Position{ClientID: "A", MapID: 1}, time.Now())

	s.CleanupConnection(conn, "A", true)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.positions["A"]; ok {
		t.Fatalf("expected position removed after owning connection's cleanup")
	}
	if _, ok := s.lastNearby["A"]; ok {
		t.Fatalf("expected lastNearby removed after owning connection's cleanup")
	}
	if _, ok := s.clientToConn["A"]; ok {
		t.Fatalf("expected clientToConn removed after owning connection's cleanup")
	}
}

func TestTimedOutClients(t *testing.T) {
	s := newTestState()
	register(s, "conn-a")
	old := time.Now().Add(-1 * time.Hour)
	update(s, "conn-a", model.Position{ClientID: "A", MapID: 1}, old)

	stale := s.TimedOutClients(time.Now().Add(-15 * time.Second))
	if len(stale) != 1 || stale[0].ClientID != "A" {
		t.Fatalf("expected A flagged stale, got %v", stale)
	}

	fresh := s.TimedOutClients(time.Now().Add(-2 * time.Hour))
	if len(fresh) != 0 {
		t.Fatalf("expected no stale clients against an older deadline, got %v", fresh)
	}
}

func TestSinkFullDropsNotification(t *testing.T) {
	s := newTestState()
	sink := register(s, "conn-a")
	update(s, "conn-a", model.Position{ClientID: "A", MapID: 1}, time.Now())

	// Fill the sink, then confirm one more Deliver does not block and
	// leaves the queue exactly full (the message is dropped).
	capacity := cap(sink.messages)
	for i := 0; i < capacity; i++ {
		if !sink.TrySend(wire.ErrorMessage("filler")) {
			t.Fatalf("unexpected full sink while filling")
		}
	}
	s.Deliver("A")
	if len(sink.messages) != capacity {
		t.Fatalf("expected sink to remain at capacity after a dropped send, got %d/%d", len(sink.messages), capacity)
	}
}

// PeekNearby must reflect the requester's true current neighborhood,
// including a peer that drifted out of range purely because the peer
// moved, not the requester. Spec.md's §4.2 step 6 tie-break leaves the
// requester's own last_nearby untouched on the peer's move, so a stale
// PeekNearby would otherwise report a peer that already left.
func TestPeekNearbyReflectsPeerThatMovedAway(t *testing.T) {
	s := newTestState()
	register(s, "conn-a")
	register(s, "conn-b")
	update(s, "conn-a", model.Position{ClientID: "A", MapID: 1, X: 0, Y: 0}, time.Now())
	update(s, "conn-b", model.Position{ClientID: "B", MapID: 1, X: 10, Y: 0}, time.Now())

	before := s.PeekNearby("A")
	if !contains(stringsToClientIDs(before), "B") {
		t.Fatalf("expected A to see B before B moves away, got %v", before)
	}

	// B alone moves past the disconnection radius; A's own last_nearby
	// is never touched by this move (A is not the mover and is not
	// symmetrically introduced to anything).
	update(s, "conn-b", model.Position{ClientID: "B", MapID: 1, X: 100, Y: 100}, time.Now())

	s.mu.RLock()
	_, aStillCachesB := s.lastNearby["A"]["B"]
	s.mu.RUnlock()
	if !aStillCachesB {
		t.Fatalf("test setup expected A's cached nearby set to still (stale) list B")
	}

	after := s.PeekNearby("A")
	if contains(stringsToClientIDs(after), "B") {
		t.Fatalf("expected PeekNearby to recompute and drop B that moved away, got %v", after)
	}
}

func stringsToClientIDs(ids []string) []model.ClientID {
	out := make([]model.ClientID, len(ids))
	for i, id := range ids {
		out[i] = model.ClientID(id)
	}
	return out
}

func TestRefreshRecomputesAndCaches(t *testing.T) {
	s := newTestState()
	register(s, "conn-a")
	register(s, "conn-b")
	update(s, "conn-a", model.Position{ClientID: "A", MapID: 1, X: 0, Y: 0}, time.Now())
	update(s, "conn-b", model.Position{ClientID: "B", MapID: 1, X: 10, Y: 0}, time.Now())

	ids, ok := s.Refresh("A")
	if !ok {
		t.Fatalf("expected Refresh to find a registered client")
	}
	if len(ids) != 1 || ids[0] != "B" {
		t.Fatalf("expected Refresh to report B nearby, got %v", ids)
	}

	_, ok = s.Refresh("unknown")
	if ok {
		t.Fatalf("expected Refresh on unknown client to report not-found")
	}
}
