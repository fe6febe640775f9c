// Package relay mirrors chat state to read-only browser viewers over
// websockets.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/vrin-ai/vrin-chat/pkg/eventbus"
)

type Server struct {
	coordinator *StreamCoordinator
	pool        *ConnectionPool
	buffer      *frameBuffer
	upgrader    websocket.Upgrader

	registry *prometheus.Registry
	viewers  prometheus.Gauge
	frames   prometheus.Counter

	// mu orders replay against live frames for a joining viewer.
	mu sync.Mutex
}

type ServerOption func(*Server)

// WithRegistry exposes reg on /metrics and registers the relay's own
// collectors on it.
func WithRegistry(reg *prometheus.Registry) ServerOption {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

func WithReplayLimit(n int) ServerOption {
	return func(s *Server) { s.buffer = newFrameBuffer(n) }
}

func WithUpgrader(u websocket.Upgrader) ServerOption {
	return func(s *Server) { s.upgrader = u }
}

func NewServer(subscriber message.Subscriber, topic string, opts ...ServerOption) *Server {
	s := &Server{
		buffer:   newFrameBuffer(0),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		registry: prometheus.NewRegistry(),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vrin_chat",
			Subsystem: "relay",
			Name:      "viewers",
			Help:      "Connected websocket viewers.",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vrin_chat",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames relayed to viewers.",
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry.MustRegister(s.viewers, s.frames)
	s.pool = NewConnectionPool(func(n int) { s.viewers.Set(float64(n)) })
	s.coordinator = NewStreamCoordinator(topic, subscriber, s.onFrame)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	return s.coordinator.Start(ctx)
}

// Close stops consuming and disconnects all viewers. The subscriber is owned
// by the caller and left open.
func (s *Server) Close() {
	s.coordinator.Stop()
	s.pool.CloseAll()
}

func (s *Server) Viewers() int { return s.pool.Count() }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":       true,
			"viewers":  s.pool.Count(),
			"running":  s.coordinator.IsRunning(),
			"last_seq": s.buffer.LastSeq(),
		})
	})
	return mux
}

func (s *Server) onFrame(frame eventbus.Frame, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.Add(frame.Seq, raw)
	s.pool.Broadcast(raw)
	s.frames.Inc()
}

func (s *Server) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	hello, _ := json.Marshal(map[string]any{
		"type":           "hello",
		"server_time_ms": time.Now().UnixMilli(),
	})

	s.mu.Lock()
	s.pool.Add(conn)
	s.pool.SendToOne(conn, hello)
	for _, f := range s.buffer.Snapshot() {
		s.pool.SendToOne(conn, f)
	}
	s.mu.Unlock()
	log.Debug().Str("component", "relay").Str("remote", req.RemoteAddr).Msg("viewer connected")

	// viewers are read-only; reading only detects disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.pool.Remove(conn)
	log.Debug().Str("component", "relay").Str("remote", req.RemoteAddr).Msg("viewer disconnected")
}
