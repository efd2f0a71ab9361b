// Package sweeper runs the periodic liveness and reintroduction task
// described in spec.md §4.6, grounded on the teacher's periodic
// stabilizer goroutines: a ticker-driven loop selecting between the
// ticker channel and context cancellation.
package sweeper

import (
	"context"
	"time"

	"github.com/flavio-simonelli/proxchat/internal/logger"
	"github.com/flavio-simonelli/proxchat/internal/world"
)

// Sweeper owns the background timeout and reintroduction passes.
type Sweeper struct {
	world   *world.State
	log     logger.Logger
	period  time.Duration
	timeout time.Duration
}

func New(w *world.State, log logger.Logger, period, timeout time.Duration) *Sweeper {
	return &Sweeper{world: w, log: log.Named("sweeper"), period: period, timeout: timeout}
}

// Run ticks every period until ctx is cancelled, running the timeout
// pass and reintroduction pass each tick.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.tick()
		}
	}
}

func (sw *Sweeper) tick() {
	sw.timeoutPass()
	sw.reintroductionPass()
}

// timeoutPass evicts any client whose last update predates the
// timeout window. Cleanup reuses the exact same path a connection's
// own inbound-loop exit uses, and forcibly closes the stale
// connection's transport so its session task notices and exits too.
func (sw *Sweeper) timeoutPass() {
	deadline := time.Now().Add(-sw.timeout)
	stale := sw.world.TimedOutClients(deadline)
	for _, cc := range stale {
		sw.world.Kill(cc.ConnID)
		sw.world.CleanupConnectionTimeout(cc.ConnID, cc.ClientID)
		sw.log.Info("evicted timed-out client",
			logger.F("client_id", string(cc.ClientID)), logger.F("conn_id", string(cc.ConnID)))
	}
}

// reintroductionPass recomputes and redelivers a NearbyPeers message
// to every live client, regardless of whether anything changed. This
// is the eventual-consistency backstop for hysteresis asymmetry,
// queue drops, and lost races with a simultaneous disconnect; enqueue
// failures are tolerated silently.
func (sw *Sweeper) reintroductionPass() {
	for _, clientID := range sw.world.AllClientIDs() {
		if _, ok := sw.world.Refresh(clientID); ok {
			sw.world.Deliver(clientID)
		}
	}
}
