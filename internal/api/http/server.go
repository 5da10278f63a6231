package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"jitstream/internal/app"
	"jitstream/internal/domain"
	"jitstream/internal/hls"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Streamer is the supervisor surface the HTTP layer needs: playlists and
// segments materialized on demand plus a health snapshot.
type Streamer interface {
	MasterPlaylist(ctx context.Context, videoID domain.VideoID) (string, error)
	EnsureVariantPlaylist(ctx context.Context, videoID domain.VideoID, label string) (string, error)
	EnsureSegment(ctx context.Context, videoID domain.VideoID, label string, segment int) (string, error)
	EnsureInitSegment(ctx context.Context, videoID domain.VideoID, label string) (string, error)
	EnsureExplicitSegment(ctx context.Context, videoID domain.VideoID, label string, segment int, runtimeTicks, lengthTicks int64) (string, error)
	Health() hls.HealthSnapshot
}

type PlaybackHistoryStore interface {
	Upsert(ctx context.Context, pos domain.PlaybackPosition) error
	Get(ctx context.Context, videoID domain.VideoID, variant string) (domain.PlaybackPosition, error)
	ListRecent(ctx context.Context, limit int) ([]domain.PlaybackPosition, error)
}

type EncodingSettingsController interface {
	Get() app.EncodingSettings
	Update(settings app.EncodingSettings) error
}

type JITSettingsController interface {
	Get() app.JITSettings
	Update(settings app.JITSettings) error
}

type Server struct {
	streamer        Streamer
	history         PlaybackHistoryStore
	encoding        EncodingSettingsController
	jitSettingsCtrl JITSettingsController
	allowedOrigins  []string
	logger          *slog.Logger
	handler         http.Handler
	wsHub           *wsHub
}

type ServerOption func(*Server)

func WithPlaybackHistory(store PlaybackHistoryStore) ServerOption {
	return func(s *Server) {
		s.history = store
	}
}

func WithEncodingSettings(ctrl EncodingSettingsController) ServerOption {
	return func(s *Server) {
		s.encoding = ctrl
	}
}

func WithJITSettings(ctrl JITSettingsController) ServerOption {
	return func(s *Server) {
		s.jitSettingsCtrl = ctrl
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(streamer Streamer, opts ...ServerOption) *Server {
	s := &Server{streamer: streamer}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/stream/", s.handleStream)
	mux.HandleFunc("/settings/encoding", s.handleEncodingSettings)
	mux.HandleFunc("/settings/jit", s.handleJITSettings)
	mux.HandleFunc("/playback-history", s.handlePlaybackHistory)
	mux.HandleFunc("/playback-history/", s.handlePlaybackHistoryByID)
	mux.HandleFunc("/internal/health/jit", s.handleJITHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "jit-engine",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/internal/health/jit" && !strings.HasPrefix(p, "/ws")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// BroadcastEvent forwards a session lifecycle event to all WebSocket
// clients. Wired as the supervisor's event sink.
func (s *Server) BroadcastEvent(evt hls.Event) {
	if s.wsHub != nil {
		s.wsHub.Broadcast("session", evt)
	}
}

// BroadcastHealth broadcasts the current supervisor snapshot to all
// connected WebSocket clients.
func (s *Server) BroadcastHealth() {
	if s.wsHub == nil || s.streamer == nil {
		return
	}
	s.wsHub.Broadcast("health", s.streamer.Health())
}

// Close shuts down the WebSocket hub, disconnecting all clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
