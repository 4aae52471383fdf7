package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	apihttp "seekstream/internal/api/http"
	"seekstream/internal/app"
	"seekstream/internal/metrics"
	"seekstream/internal/services/torrent/engine/anacrolix"
	"seekstream/internal/storage/memory"
	"seekstream/internal/telemetry"
	"seekstream/internal/usecase"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "seekstream", logger)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	logger.Info("configuration loaded",
		slog.String("service", "seekstream"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("dataDir", cfg.TorrentDataDir),
		slog.String("pieceCache", humanize.IBytes(uint64(cfg.PieceCacheBytes))),
		slog.String("streamCache", humanize.IBytes(uint64(cfg.StreamCacheSize))),
		slog.String("maxPieceLength", humanize.IBytes(uint64(cfg.MaxPieceLength))),
		slog.Int("pieceBuffer", cfg.PieceBufferSize),
		slog.Int("deselectMargin", cfg.DeselectMargin),
		slog.Duration("pieceTimeout", cfg.PieceTimeout),
		slog.Int("maxSessions", cfg.MaxSessions),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:    cfg.TorrentDataDir,
		ListenPort: cfg.ListenPort,
		MaxConns:   cfg.MaxConns,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := usecase.NewSessionRegistry(engine,
		memory.NewCacheFactory(cfg.PieceCacheBytes, cfg.MaxPieceLength),
		usecase.WithAddTimeout(cfg.SwarmAddTimeout),
		usecase.WithMaxSessions(cfg.MaxSessions),
		usecase.WithRegistryLogger(logger),
	)
	streamer := &usecase.RangeStreamer{
		Registry: registry,
		Scheduler: usecase.PriorityScheduler{
			BufferPieces:   cfg.PieceBufferSize,
			DeselectMargin: cfg.DeselectMargin,
			Logger:         logger,
		},
		StreamCacheSize: cfg.StreamCacheSize,
		PieceTimeout:    cfg.PieceTimeout,
		Logger:          logger,
		Tracer:          telemetry.Tracer("seekstream/usecase"),
	}

	handler := apihttp.NewServer(usecase.CreateTorrent{Registry: registry},
		apihttp.WithLogger(logger),
		apihttp.WithGetTorrentState(usecase.GetTorrentState{Registry: registry}),
		apihttp.WithListTorrents(usecase.ListTorrents{Registry: registry}),
		apihttp.WithDeleteTorrent(usecase.DeleteTorrent{Registry: registry}),
		apihttp.WithStreamer(streamer),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	go updateEngineMetrics(rootCtx, engine, registry)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Closing sessions first ends in-flight range reads with ErrSessionGone,
	// so Shutdown does not wait on them for the full piece timeout.
	handler.Close()
	registry.RemoveAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func updateEngineMetrics(ctx context.Context, engine *anacrolix.Engine, registry *usecase.SessionRegistry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rate, peers := engine.Totals()
			metrics.DownloadSpeedBytes.Set(float64(rate))
			metrics.PeersConnected.Set(float64(peers))

			sessions := registry.List()
			metrics.ActiveSessions.Set(float64(len(sessions)))
			var cached int64
			for _, s := range sessions {
				cached += s.CachedBytes()
			}
			metrics.CachedBytes.Set(float64(cached))
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
