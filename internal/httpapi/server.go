// Package httpapi wraps the net/http server exposing the WebSocket
// upgrade endpoint, a liveness probe, and the Prometheus exposition
// endpoint. It mirrors the teacher's internal/server package shape
// (New/Start/Stop/GracefulStop around an inner server object) with
// net/http standing in for grpc.Server.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flavio-simonelli/proxchat/internal/logger"
	"github.com/flavio-simonelli/proxchat/internal/metrics"
	"github.com/flavio-simonelli/proxchat/internal/model"
	"github.com/flavio-simonelli/proxchat/internal/relay"
	"github.com/flavio-simonelli/proxchat/internal/session"
	"github.com/flavio-simonelli/proxchat/internal/world"
)

// IDGenerator mints a fresh ConnID for each accepted connection.
type IDGenerator func() model.ConnID

// Server wraps an http.Server hosting the WebSocket endpoint plus
// /healthz and /metrics.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	lgr        logger.Logger

	world    *world.State
	relay    *relay.Router
	sessCfg  session.Config
	newID    IDGenerator
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics

	ready int32
}

// Option configures optional Server behavior, following the teacher's
// functional-options convention.
type Option func(*Server)

// WithLogger attaches a structured logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.lgr = l }
}

// WithMetrics attaches a Metrics bundle to instrument every accepted
// session.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds a Server bound to lis, wiring the WebSocket endpoint at
// wsPath, the liveness probe at healthzPath, and a Prometheus handler at
// metricsPath (gathering from reg, which may be prometheus.DefaultGatherer).
func New(lis net.Listener, w *world.State, r *relay.Router, sessCfg session.Config, newID IDGenerator, wsPath, healthzPath, metricsPath string, reg prometheus.Gatherer, opts ...Option) *Server {
	s := &Server{
		listener: lis,
		lgr:      &logger.NopLogger{},
		world:    w,
		relay:    r,
		sessCfg:  sessCfg,
		newID:    newID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	atomic.StoreInt32(&s.ready, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.handleWebSocket)
	mux.HandleFunc(healthzPath, s.handleHealthz)
	mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.httpServer = &http.Server{Handler: mux}
	return s
}

// Start runs the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server stopped: %w", err)
	}
	return nil
}

// Stop closes the listener and active connections immediately.
func (s *Server) Stop() {
	_ = s.httpServer.Close()
}

// GracefulStop lets in-flight requests finish before returning.
func (s *Server) GracefulStop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if atomic.LoadInt32(&s.ready) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.lgr.Warn("websocket upgrade failed", logger.F("error", err.Error()), logger.F("remote", r.RemoteAddr))
		return
	}

	connID := s.newID()
	sess := session.New(connID, conn, s.world, s.relay, s.lgr, s.sessCfg, s.metrics)
	s.lgr.Info("connection accepted", logger.F("conn_id", string(connID)), logger.F("remote", r.RemoteAddr))
	sess.Run(r.Context())
}
