package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"seekstream/internal/domain"
)

type Config struct {
	HTTPAddr       string
	LogLevel       string
	LogFormat      string
	TorrentDataDir string
	ListenPort     int
	MaxSessions    int // 0 = unlimited
	MaxConns       int

	PieceCacheBytes int64
	StreamCacheSize int64
	MaxPieceLength  int64
	PieceBufferSize int
	DeselectMargin  int
	PieceTimeout    time.Duration
	SwarmAddTimeout time.Duration

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		TorrentDataDir: getEnv("TORRENT_DATA_DIR", filepath.Join(os.TempDir(), "seekstream")),
		ListenPort:     int(getEnvInt64("TORRENT_LISTEN_PORT", 0)),
		MaxSessions:    int(getEnvInt64("TORRENT_MAX_SESSIONS", 0)),
		MaxConns:       int(getEnvInt64("TORRENT_MAX_CONNS", 35)),

		PieceCacheBytes: getEnvBytes("PIECE_CACHE_BYTES", 256<<20),
		StreamCacheSize: getEnvBytes("STREAM_CACHE_SIZE", 32<<20),
		MaxPieceLength:  getEnvBytes("MAX_PIECE_LENGTH", 16<<20),
		PieceBufferSize: int(getEnvInt64("PIECE_BUFFER_SIZE", 50)),
		DeselectMargin:  int(getEnvInt64("DESELECT_MARGIN", 30)),
		PieceTimeout:    getEnvDuration("PIECE_TIMEOUT", 30*time.Second),
		SwarmAddTimeout: getEnvDuration("SWARM_ADD_TIMEOUT", 60*time.Second),

		CORSAllowedOrigins: parseCommaSeparated(getEnv("CORS_ALLOWED_ORIGINS", "")),
		RateLimitRPS:       float64(getEnvInt64("RATE_LIMIT_RPS", 100)),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", 200)),
	}
}

// Validate checks that the cache budgets can hold what they are asked to hold.
// Violations wrap domain.ErrCacheConfig and are fatal at startup.
func (c Config) Validate() error {
	switch {
	case c.MaxPieceLength <= 0 || c.StreamCacheSize <= 0 || c.PieceCacheBytes <= 0:
		return fmt.Errorf("%w: cache sizes must be positive", domain.ErrCacheConfig)
	case c.StreamCacheSize < c.MaxPieceLength:
		return fmt.Errorf("%w: STREAM_CACHE_SIZE %s is smaller than MAX_PIECE_LENGTH %s",
			domain.ErrCacheConfig, humanize.IBytes(uint64(c.StreamCacheSize)), humanize.IBytes(uint64(c.MaxPieceLength)))
	case c.PieceCacheBytes < c.StreamCacheSize:
		return fmt.Errorf("%w: PIECE_CACHE_BYTES %s is smaller than STREAM_CACHE_SIZE %s",
			domain.ErrCacheConfig, humanize.IBytes(uint64(c.PieceCacheBytes)), humanize.IBytes(uint64(c.StreamCacheSize)))
	case c.PieceBufferSize < 20:
		return fmt.Errorf("%w: PIECE_BUFFER_SIZE must cover the critical and high bands (>= 20)", domain.ErrCacheConfig)
	case c.DeselectMargin < 0:
		return fmt.Errorf("%w: DESELECT_MARGIN must not be negative", domain.ErrCacheConfig)
	case c.PieceTimeout <= 0 || c.SwarmAddTimeout <= 0:
		return fmt.Errorf("%w: PIECE_TIMEOUT and SWARM_ADD_TIMEOUT must be positive", domain.ErrCacheConfig)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvBytes accepts plain byte counts as well as sizes like "256MiB".
func getEnvBytes(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := humanize.ParseBytes(value)
	if err != nil || parsed > uint64(1<<62) {
		return fallback
	}
	return int64(parsed)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseCommaSeparated(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
