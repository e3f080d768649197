package apihttp

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrentgate/internal/activity"
	"torrentgate/internal/auth"
	"torrentgate/internal/domain/ports"
	"torrentgate/internal/events"
	"torrentgate/internal/gateway"
	"torrentgate/internal/poller"
	"torrentgate/internal/transfer"
)

// Server is the HTTP adapter: request parsing, cookie handling and JSON
// rendering only. All behavior lives in the packages it delegates to.
type Server struct {
	auth      *auth.Manager
	gateway   *gateway.Gateway
	store     ports.Store
	poller    *poller.Poller
	transfers *transfer.Manager
	recorder  *activity.Recorder
	streams   *StreamManager
	webhooks  *events.WebhookSubscriber
	bus       *events.Bus

	cookieSecure   bool
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithPoller(p *poller.Poller) ServerOption {
	return func(s *Server) { s.poller = p }
}

func WithTransfers(m *transfer.Manager) ServerOption {
	return func(s *Server) { s.transfers = m }
}

func WithRecorder(r *activity.Recorder) ServerOption {
	return func(s *Server) { s.recorder = r }
}

func WithStreams(m *StreamManager) ServerOption {
	return func(s *Server) { s.streams = m }
}

func WithWebhooks(w *events.WebhookSubscriber) ServerOption {
	return func(s *Server) { s.webhooks = w }
}

func WithEventBus(b *events.Bus) ServerOption {
	return func(s *Server) { s.bus = b }
}

func WithCookieSecure(secure bool) ServerOption {
	return func(s *Server) { s.cookieSecure = secure }
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func NewServer(authMgr *auth.Manager, gw *gateway.Gateway, store ports.Store, opts ...ServerOption) *Server {
	s := &Server{
		auth:         authMgr,
		gateway:      gw,
		store:        store,
		cookieSecure: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()
	if s.bus != nil {
		s.bus.Subscribe(s.wsHub)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/register", s.handleRegister)
	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/auth/logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("/auth/me", s.requireAuth(s.handleMe))
	mux.HandleFunc("/auth/account", s.requireAuth(s.handleDeleteAccount))
	mux.HandleFunc("/auth/api-keys", s.requireAuth(s.handleAPIKeys))
	mux.HandleFunc("/auth/api-keys/", s.requireAuth(s.handleAPIKeyByPrefix))

	mux.HandleFunc("/servers", s.requireAuth(s.handleServers))
	mux.HandleFunc("/servers/", s.requireAuth(s.handleServerByID))

	mux.HandleFunc("/torrents", s.requireAuth(s.handleTorrents))
	mux.HandleFunc("/torrents/upload", s.requireAuth(s.handleTorrentUpload))
	mux.HandleFunc("/torrents/", s.requireAuth(s.handleTorrentByHash))

	mux.HandleFunc("/transfers", s.requireAuth(s.handleTransfers))
	mux.HandleFunc("/transfers/", s.requireAuth(s.handleTransferByID))

	mux.HandleFunc("/streams", s.requireAuth(s.handleStreams))
	mux.HandleFunc("/streams/", s.requireAuth(s.handleStreamByID))

	mux.HandleFunc("/webhooks", s.requireAuth(s.handleWebhooks))
	mux.HandleFunc("/ws/events", s.requireAuth(s.handleWS))

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "torrent-gateway",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz" && !strings.HasPrefix(p, "/streams/")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// Close shuts down the stream manager (cancelling all FFmpeg jobs) and the
// WebSocket hub, disconnecting all clients.
func (s *Server) Close() {
	if s.streams != nil {
		s.streams.Shutdown()
	}
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
