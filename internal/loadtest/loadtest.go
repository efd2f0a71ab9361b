package loadtest

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/flavio-simonelli/proxchat/internal/loadtest/writer"
	"github.com/flavio-simonelli/proxchat/internal/logger"
	"github.com/flavio-simonelli/proxchat/internal/wire"
)

// Tester drives Config.Clients.Count simulated clients against a
// running proxchatd instance for Config.Simulation.Duration, the way
// the teacher's Tester drives parallel DHT lookup waves against a
// running node.
type Tester struct {
	cfg Config
	log logger.Logger
	csv *writer.CSVWriter
}

// New builds a Tester. csv may be nil when Config.CSV.Enabled is false.
func New(cfg Config, log logger.Logger, csv *writer.CSVWriter) *Tester {
	return &Tester{cfg: cfg, log: log, csv: csv}
}

// Run spawns every simulated client, staggered by a random jitter up to
// Config.Clients.SpawnJitter, and blocks until Config.Simulation.Duration
// elapses or ctx is cancelled.
func (t *Tester) Run(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, t.cfg.Simulation.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < t.cfg.Clients.Count; i++ {
		wg.Add(1)
		clientID := fmt.Sprintf("sim-%s", uuid.NewString()[:8])
		go func(id string) {
			defer wg.Done()
			if t.cfg.Clients.SpawnJitter > 0 {
				jitter := time.Duration(rand.Int63n(int64(t.cfg.Clients.SpawnJitter)))
				select {
				case <-time.After(jitter):
				case <-runCtx.Done():
					return
				}
			}
			t.runClient(runCtx, id)
		}(clientID)
	}

	wg.Wait()
	t.log.Info("load test finished", logger.F("clients", t.cfg.Clients.Count))
	if t.csv != nil {
		return t.csv.Flush()
	}
	return nil
}

// runClient owns one simulated client's full lifecycle: dial, register
// via UpdatePosition, random-walk on a ticker, and drain inbound frames
// concurrently so NearbyPeers/Error replies never block the socket.
func (t *Tester) runClient(ctx context.Context, clientID string) {
	u := url.URL{Scheme: "ws", Host: t.cfg.Target.Addr, Path: t.cfg.Target.Path}

	dialStart := time.Now()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		t.record(clientID, "connect", "error", time.Since(dialStart))
		t.log.Warn("dial failed", logger.F("client_id", clientID), logger.F("error", err.Error()))
		return
	}
	defer conn.Close()
	t.record(clientID, "connect", "ok", time.Since(dialStart))

	go t.drainInbound(clientID, conn)

	pos := randomPosition(t.cfg.Movement)
	ticker := time.NewTicker(t.cfg.Movement.UpdateRate)
	defer ticker.Stop()

	for {
		sendStart := time.Now()
		if err := sendUpdatePosition(conn, clientID, pos, t.cfg.Movement); err != nil {
			t.record(clientID, "update_position", "error", time.Since(sendStart))
			return
		}
		t.record(clientID, "update_position", "ok", time.Since(sendStart))

		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.TextMessage, mustEncode(wire.Outbound{Type: wire.TagDisconnect}))
			return
		case <-ticker.C:
			pos = stepPosition(pos, t.cfg.Movement)
		}
	}
}

// drainInbound reads every server frame until the connection closes,
// recording a row per NearbyPeers/Error arrival so the CSV captures
// notification traffic alongside outbound operations.
func (t *Tester) drainInbound(clientID string, conn *websocket.Conn) {
	for {
		start := time.Now()
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := wire.Decode(payload)
		if err != nil {
			continue
		}
		switch env.Type {
		case wire.TagNearbyPeers:
			t.record(clientID, "nearby_peers", "received", time.Since(start))
		case wire.TagError:
			t.record(clientID, "server_error", "received", time.Since(start))
		case wire.TagReceiveOffer, wire.TagReceiveAnswer, wire.TagReceiveIceCandidate:
			t.record(clientID, "relay_inbound", "received", time.Since(start))
		}
	}
}

func (t *Tester) record(clientID, event, result string, latency time.Duration) {
	if t.csv == nil {
		return
	}
	if err := t.csv.WriteRow(clientID, event, result, latency); err != nil {
		t.log.Warn("failed to write csv row", logger.F("error", err.Error()))
	}
}

type simPosition struct {
	x, y int
}

func randomPosition(m MovementConfig) simPosition {
	return simPosition{x: rand.Intn(m.BoundsWidth), y: rand.Intn(m.BoundsHeight)}
}

// stepPosition performs a bounded random walk: each tick nudges x and y
// by up to StepSize in either direction, clamped to the movement bounds.
func stepPosition(p simPosition, m MovementConfig) simPosition {
	p.x = clamp(p.x+randStep(m.StepSize), 0, m.BoundsWidth)
	p.y = clamp(p.y+randStep(m.StepSize), 0, m.BoundsHeight)
	return p
}

func randStep(stepSize int) int {
	if stepSize <= 0 {
		return 0
	}
	return rand.Intn(2*stepSize+1) - stepSize
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sendUpdatePosition(conn *websocket.Conn, clientID string, pos simPosition, m MovementConfig) error {
	msg := wire.Outbound{Type: wire.TagUpdatePosition, Data: wire.UpdatePositionData{
		ClientID: clientID,
		MapID:    m.MapID,
		Channel:  m.Channel,
		GameID:   m.GameID,
		X:        pos.x,
		Y:        pos.y,
	}}
	encoded, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode UpdatePosition: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, encoded)
}

func mustEncode(o wire.Outbound) []byte {
	b, err := o.Encode()
	if err != nil {
		// Disconnect carries no payload; encoding it cannot fail.
		panic(err)
	}
	return b
}
