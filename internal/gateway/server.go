package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"interview-realtime-gateway/internal/agents"
	"interview-realtime-gateway/internal/auth"
	"interview-realtime-gateway/internal/observability/logging"
	"interview-realtime-gateway/internal/observability/metrics"
	"interview-realtime-gateway/internal/provider"
	"interview-realtime-gateway/internal/timer"
)

// Server accepts client WebSocket connections and serves the health
// endpoint.
type Server struct {
	verifier *auth.Verifier
	selector *provider.Selector
	timer    *timer.Service
	router   *Router
	registry *agents.Registry
	metrics  *metrics.Metrics

	upgrader    websocket.Upgrader
	started     time.Time
	connections atomic.Int64
}

// NewServer wires the gateway surface together.
func NewServer(verifier *auth.Verifier, selector *provider.Selector, t *timer.Service, router *Router, registry *agents.Registry) *Server {
	return &Server{
		verifier: verifier,
		selector: selector,
		timer:    t,
		router:   router,
		registry: registry,
		metrics:  metrics.DefaultMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browsers cannot set Authorization headers on WebSocket
			// upgrades; the credential rides the subprotocol instead,
			// so origin checks add nothing here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

// Routes returns the gateway's HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":             true,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"connections":    s.connections.Load(),
	})
}

// credentialFromProtocols pulls the token from the negotiated
// subprotocol list: the first comma-separated entry.
func credentialFromProtocols(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Split(header, ",")
	return strings.TrimSpace(parts[0])
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := credentialFromProtocols(r.Header.Get("Sec-WebSocket-Protocol"))

	// Echo the credential subprotocol so browser clients complete the
	// handshake.
	var respHeader http.Header
	if token != "" {
		respHeader = http.Header{"Sec-WebSocket-Protocol": []string{token}}
	}
	ws, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		s.metrics.RecordConnectionRejected("upgrade")
		return
	}
	// Fail oversized frames during the read instead of buffering them
	// whole; gorilla closes with 1009 at the cap.
	ws.SetReadLimit(maxFrameSize)
	defer ws.Close()

	conn := NewConn(ws)
	identity, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		s.metrics.RecordConnectionRejected(codeUnauthorized)
		conn.CloseWith(closeUnauthorized, "Unauthorized")
		return
	}

	s.connections.Add(1)
	s.metrics.RecordConnectionOpen()
	opened := time.Now()
	log := logging.WithSession(identity.SessionID, identity.UserID)
	log.Info().Msg("Connection established")

	defer func() {
		s.connections.Add(-1)
		s.metrics.RecordConnectionClose(time.Since(opened).Seconds())
		log.Info().Msg("Connection closed")
	}()

	s.serveSession(r.Context(), conn, ws, identity)
}

// bridgeHolder shares the voice handle between the read loop, the
// timer warning callback and the observer injector. The handle becomes
// nil once the bridge reports closed.
type bridgeHolder struct {
	mu     sync.Mutex
	handle provider.Handle
}

func (h *bridgeHolder) get() provider.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handle
}

func (h *bridgeHolder) set(handle provider.Handle) {
	h.mu.Lock()
	h.handle = handle
	h.mu.Unlock()
}

func (s *Server) serveSession(ctx context.Context, conn *Conn, ws *websocket.Conn, identity *auth.SessionIdentity) {
	sessionID := identity.SessionID
	log := logging.WithSession(sessionID, identity.UserID)
	holder := &bridgeHolder{}

	handle, err := s.selector.Select(ctx, sessionID, provider.Callbacks{
		OnMessage: func(data []byte) {
			if err := conn.SendRaw(data); err != nil {
				log.Debug().Err(err).Msg("Client write failed")
			}
		},
		OnError: func(code, message string) {
			if message == "" {
				message = "Voice provider unavailable"
			}
			conn.SendEvent(errorFrame{Type: "error", Code: code, Message: message})
		},
		OnClose: func() {
			holder.set(nil)
		},
	})
	if err != nil {
		// The connection stays open so the client does not sit in a
		// silent connected state; audio frames answer with the same
		// error until it reconnects.
		log.Warn().Err(err).Msg("No voice provider for session")
		conn.SendEvent(errorFrame{
			Type:    "error",
			Code:    provider.CodeProviderUnavailable,
			Message: "Voice provider is not configured. Please try again later.",
		})
	} else {
		holder.set(handle)
	}

	s.registry.Register(sessionID, func(insight string) {
		if h := holder.get(); h != nil {
			h.InjectObserverInsight(insight)
		}
	})

	s.timer.RegisterSocket(sessionID, conn)
	s.timer.RegisterWarning(sessionID, func(remainingMs int64) {
		h := holder.get()
		if h == nil {
			return
		}
		text := "Just a heads up, we have about five minutes left. How are you feeling about where you are?"
		if remainingMs <= timer.OneMinuteWarning {
			text = "We have about a minute left, so let's start wrapping up. Can you walk me through your overall approach?"
		}
		h.InjectTimeWarning(text)
	})

	if state, err := s.timer.StartOrResume(ctx, sessionID); err != nil {
		log.Error().Err(err).Msg("Timer start failed")
	} else if err := s.timer.SendSnapshot(conn, state); err != nil {
		log.Debug().Err(err).Msg("Snapshot write failed")
	}

	defer func() {
		s.timer.UnregisterSocket(sessionID, conn)
		s.registry.Unregister(sessionID)
		s.selector.Forget(sessionID)
		if h := holder.get(); h != nil {
			h.Disconnect()
		}
	}()

	forward := func(data []byte) {
		if h := holder.get(); h != nil {
			h.Send(data)
		}
	}
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var fw func([]byte)
		if holder.get() != nil {
			fw = forward
		}
		if !s.router.HandleFrame(ctx, conn, sessionID, messageType, data, fw) {
			return
		}
	}
}
