package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"seekstream/internal/domain"
	"seekstream/internal/usecase"
)

type CreateTorrentUseCase interface {
	Execute(ctx context.Context, raw string) (usecase.TorrentView, error)
}

type GetTorrentStateUseCase interface {
	Execute(raw string) (domain.SessionStats, error)
}

type ListTorrentsUseCase interface {
	Execute() []usecase.TorrentView
}

type DeleteTorrentUseCase interface {
	Execute(raw string) error
}

// RangeOpener resolves a range request against a live session.
type RangeOpener interface {
	Open(infoHash, filePath string, req *usecase.RangeRequest, reader string) (*usecase.Stream, error)
}

const (
	defaultRateLimitRPS   = 100
	defaultRateLimitBurst = 200
	defaultStatusInterval = time.Second
)

type Server struct {
	createTorrent  CreateTorrentUseCase
	getState       GetTorrentStateUseCase
	listTorrents   ListTorrentsUseCase
	deleteTorrent  DeleteTorrentUseCase
	streamer       RangeOpener
	allowedOrigins []string
	origins        originPolicy
	upgrader       *websocket.Upgrader
	rateRPS        float64
	rateBurst      int
	statusInterval time.Duration
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
	stop           chan struct{}
	closeOnce      sync.Once
}

type ServerOption func(*Server)

func WithGetTorrentState(uc GetTorrentStateUseCase) ServerOption {
	return func(s *Server) {
		s.getState = uc
	}
}

func WithListTorrents(uc ListTorrentsUseCase) ServerOption {
	return func(s *Server) {
		s.listTorrents = uc
	}
}

func WithDeleteTorrent(uc DeleteTorrentUseCase) ServerOption {
	return func(s *Server) {
		s.deleteTorrent = uc
	}
}

func WithStreamer(streamer RangeOpener) ServerOption {
	return func(s *Server) {
		s.streamer = streamer
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

// WithStatusInterval sets how often live session stats are pushed to
// WebSocket clients.
func WithStatusInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		s.statusInterval = d
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(create CreateTorrentUseCase, opts ...ServerOption) *Server {
	s := &Server{
		createTorrent:  create,
		rateRPS:        defaultRateLimitRPS,
		rateBurst:      defaultRateLimitBurst,
		statusInterval: defaultStatusInterval,
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.statusInterval <= 0 {
		s.statusInterval = defaultStatusInterval
	}

	s.origins = newOriginPolicy(s.allowedOrigins)
	s.upgrader = newWSUpgrader(s.origins)
	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()
	if s.listTorrents != nil {
		go s.broadcastLoop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/torrents", s.handleTorrents)
	mux.HandleFunc("/torrents/", s.handleTorrentByID)
	mux.HandleFunc("/stream/", s.handleStream)
	mux.HandleFunc("/internal/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "seekstream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/internal/health" && p != "/ws"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(corsMiddleware(s.origins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the status broadcaster and disconnects WebSocket clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wsHub.Close()
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed",
			slog.String("origin", r.Header.Get("Origin")),
			slog.String("error", err.Error()),
		)
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.BroadcastStatus()
		}
	}
}

// BroadcastStatus pushes the stats of every live session to WebSocket clients.
func (s *Server) BroadcastStatus() {
	if s.listTorrents == nil || s.wsHub.clientCount() == 0 {
		return
	}
	views := s.listTorrents.Execute()
	stats := make([]domain.SessionStats, 0, len(views))
	for _, v := range views {
		stats = append(stats, v.SessionStats)
	}
	s.wsHub.BroadcastStatus(stats)
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{Status: "ok"}
	if s.listTorrents != nil {
		resp.Sessions = len(s.listTorrents.Execute())
	}
	writeJSON(w, http.StatusOK, resp)
}
