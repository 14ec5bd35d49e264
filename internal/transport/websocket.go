// SPDX-License-Identifier: MIT

// Package transport exposes the engine's broadcast streams to the
// outside world: a WebSocket fan-out with JSON envelopes and a binary
// UDP metrics publisher. Both are optional surfaces; the engine runs
// fine with neither.
package transport

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"beatbox/internal/config"
	"beatbox/internal/engine"
	"beatbox/internal/log"
	"beatbox/pkg/build"
)

// Envelope wraps every outbound WebSocket message with its stream
// type so clients can demultiplex.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	TypeClassification = "classification"
	TypeOnset          = "onset"
	TypeProgress       = "calibration_progress"
	TypeTelemetry      = "telemetry"
	TypeMetrics        = "metrics"
)

// WebSocketServer serves the event streams on /ws plus a small HTTP
// control surface: GET /health, GET /metrics, POST /params.
type WebSocketServer struct {
	eng    *engine.Engine
	server *http.Server
	ln     net.Listener

	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool

	// minInterval rate-limits the high-frequency metrics stream; the
	// event streams are sparse and always forwarded.
	minInterval time.Duration
	lastSend    time.Time

	metricsMu   sync.Mutex
	lastMetrics engine.AudioMetrics

	cancels []func()
	wg      sync.WaitGroup
}

// NewWebSocketServer builds the server without binding it.
func NewWebSocketServer(eng *engine.Engine, cfg config.TransportConfig) *WebSocketServer {
	s := &WebSocketServer{
		eng:     eng,
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if cfg.MaxPacketRate > 0 {
		s.minInterval = time.Duration(float64(time.Second) / cfg.MaxPacketRate)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/params", s.handleParams)
	s.server = &http.Server{Addr: cfg.WebSocketAddress, Handler: mux}
	return s
}

// Start binds the listener, subscribes to the engine streams, and
// begins serving. The bind happens synchronously so address errors
// surface to the caller.
func (s *WebSocketServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.ln = ln

	s.forward()

	go func() {
		log.Infof("transport: websocket listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != http.ErrServerClosed {
			log.Errorf("transport: websocket server: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, useful when the configured port is 0.
func (s *WebSocketServer) Addr() string {
	if s.ln == nil {
		return s.server.Addr
	}
	return s.ln.Addr().String()
}

// forward bridges each engine stream into the client fan-out.
func (s *WebSocketServer) forward() {
	results, cancelResults := s.eng.SubscribeResults()
	onsets, cancelOnsets := s.eng.SubscribeOnsets()
	progress, cancelProgress := s.eng.SubscribeProgress()
	telemetry, cancelTelemetry := s.eng.SubscribeTelemetry()
	metrics, cancelMetrics := s.eng.SubscribeMetrics()
	s.cancels = []func(){cancelResults, cancelOnsets, cancelProgress, cancelTelemetry, cancelMetrics}

	pump := func(run func()) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			run()
		}()
	}

	pump(func() {
		for r := range results {
			s.broadcast(Envelope{TypeClassification, r}, false)
		}
	})
	pump(func() {
		for o := range onsets {
			s.broadcast(Envelope{TypeOnset, o}, false)
		}
	})
	pump(func() {
		for p := range progress {
			s.broadcast(Envelope{TypeProgress, p}, false)
		}
	})
	pump(func() {
		for t := range telemetry {
			s.broadcast(Envelope{TypeTelemetry, t}, false)
		}
	})
	pump(func() {
		for m := range metrics {
			s.metricsMu.Lock()
			s.lastMetrics = m
			s.metricsMu.Unlock()
			s.broadcast(Envelope{TypeMetrics, m}, true)
		}
	})
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("transport: websocket upgrade: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	n := len(s.clients)
	s.clientsMu.Unlock()
	log.Infof("transport: websocket client connected (%d active)", n)

	// Reads are only consumed to detect disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.clientsMu.Lock()
				delete(s.clients, conn)
				s.clientsMu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

// broadcast sends one envelope to every connected client, dropping
// clients whose writes fail. Rate-limited streams are skipped when
// they exceed the configured packet rate.
func (s *WebSocketServer) broadcast(env Envelope, rateLimited bool) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if len(s.clients) == 0 {
		return
	}
	if rateLimited && s.minInterval > 0 {
		now := time.Now()
		if now.Sub(s.lastSend) < s.minInterval {
			return
		}
		s.lastSend = now
	}

	payload, err := json.Marshal(env)
	if err != nil {
		log.Errorf("transport: marshal %s envelope: %v", env.Type, err)
		return
	}
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *WebSocketServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		engine.Health
		Version string `json:"version"`
	}{s.eng.Health(), build.Get().Version}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Warnf("transport: health response: %v", err)
	}
}

func (s *WebSocketServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metricsMu.Lock()
	m := s.lastMetrics
	s.metricsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m); err != nil {
		log.Warnf("transport: metrics response: %v", err)
	}
}

// handleParams accepts a parameter patch and forwards it to the
// engine's command queue.
func (s *WebSocketServer) handleParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var patch engine.ParamPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid patch: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.eng.ApplyPatch(patch)
	w.WriteHeader(http.StatusAccepted)
}

// Close cancels the stream subscriptions, disconnects all clients,
// and shuts the HTTP server down.
func (s *WebSocketServer) Close() error {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.wg.Wait()

	s.clientsMu.Lock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	return s.server.Close()
}
