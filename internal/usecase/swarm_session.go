package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"seekstream/internal/domain"
	"seekstream/internal/domain/ports"
	"seekstream/internal/metrics"
)

// CacheFactory builds the piece cache for a session once its layout is known.
// onEvict must be invoked for every piece the cache drops to honor its budget.
type CacheFactory func(layout domain.PieceLayout, onEvict func(index int)) (ports.PieceCache, error)

// SwarmSession owns one swarm handle and its piece cache. It is the sink the
// swarm delivers verified pieces into, and the wait point for readers.
type SwarmSession struct {
	id       domain.Identifier
	newCache CacheFactory
	logger   *slog.Logger

	mu      sync.Mutex
	mode    domain.SessionMode
	handle  ports.SwarmHandle
	cache   ports.PieceCache
	layout  domain.PieceLayout
	arrived chan struct{} // closed and replaced on every delivered piece
	plan    *piecePlan

	done      chan struct{}
	closeOnce sync.Once
}

var _ ports.PieceSink = (*SwarmSession)(nil)

func newSwarmSession(id domain.Identifier, newCache CacheFactory, logger *slog.Logger) *SwarmSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &SwarmSession{
		id:       id,
		newCache: newCache,
		logger:   logger.With("infoHash", id.InfoHash),
		mode:     domain.ModeAdding,
		arrived:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *SwarmSession) ID() string { return s.id.InfoHash }

func (s *SwarmSession) Identifier() domain.Identifier { return s.id }

func (s *SwarmSession) Mode() domain.SessionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Open creates the piece cache for layout. Repeated calls are no-ops.
func (s *SwarmSession) Open(layout domain.PieceLayout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		return nil
	}
	if s.mode == domain.ModeClosing || s.mode == domain.ModeClosed {
		return domain.ErrSessionGone
	}
	cache, err := s.newCache(layout, s.invalidate)
	if err != nil {
		return err
	}
	s.cache = cache
	s.layout = layout
	s.plan = newPiecePlan(layout.NumPieces)
	return nil
}

// Put stores a verified piece and wakes every reader waiting on this session.
func (s *SwarmSession) Put(index int, data []byte) error {
	cache := s.pieceCache()
	if cache == nil {
		return fmt.Errorf("%w: session %s has no piece cache", domain.ErrCacheConfig, s.id.InfoHash)
	}
	if err := cache.Put(index, data); err != nil {
		s.logger.Warn("piece rejected by cache", slog.Int("piece", index), slog.String("error", err.Error()))
		return err
	}
	s.mu.Lock()
	close(s.arrived)
	s.arrived = make(chan struct{})
	s.mu.Unlock()
	return nil
}

func (s *SwarmSession) Get(index int) ([]byte, bool) {
	cache := s.pieceCache()
	if cache == nil {
		return nil, false
	}
	return cache.Get(index)
}

// Has reports whether piece index is cached without touching its recency.
func (s *SwarmSession) Has(index int) bool {
	cache := s.pieceCache()
	return cache != nil && cache.Has(index)
}

func (s *SwarmSession) Drop(index int) {
	if cache := s.pieceCache(); cache != nil {
		cache.Drop(index)
	}
}

// WaitPiece returns the payload of piece index, suspending until it arrives,
// timeout elapses, ctx is done or the session is torn down.
func (s *SwarmSession) WaitPiece(ctx context.Context, index int, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	started := time.Now()
	defer func() { metrics.PieceWaitDuration.Observe(time.Since(started).Seconds()) }()

	for {
		s.mu.Lock()
		if s.mode == domain.ModeClosing || s.mode == domain.ModeClosed {
			s.mu.Unlock()
			return nil, domain.ErrSessionGone
		}
		arrived := s.arrived
		cache := s.cache
		s.mu.Unlock()

		if cache != nil {
			if data, ok := cache.Get(index); ok {
				return data, nil
			}
		}
		select {
		case <-arrived:
		case <-s.done:
			return nil, domain.ErrSessionGone
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("%w: piece %d after %s", domain.ErrPieceTimeout, index, timeout)
		}
	}
}

// Protect pins the piece range of a reader's active window.
func (s *SwarmSession) Protect(first, last int) {
	if cache := s.pieceCache(); cache != nil {
		cache.Protect(first, last)
	}
}

func (s *SwarmSession) Release(first, last int) {
	if cache := s.pieceCache(); cache != nil {
		cache.Release(first, last)
	}
}

func (s *SwarmSession) Layout() domain.PieceLayout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout
}

func (s *SwarmSession) Name() string {
	h := s.swarmHandle()
	if h == nil || h.Name() == "" {
		return s.id.DisplayName
	}
	return h.Name()
}

func (s *SwarmSession) Files() []domain.FileRef {
	h := s.swarmHandle()
	if h == nil {
		return nil
	}
	return h.Files()
}

// File looks a file up by its path inside the content.
func (s *SwarmSession) File(path string) (domain.FileRef, error) {
	for _, f := range s.Files() {
		if f.Path == path {
			return f, nil
		}
	}
	return domain.FileRef{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
}

func (s *SwarmSession) Stats() domain.SessionStats {
	h := s.swarmHandle()
	if h == nil {
		out := domain.NewSessionStats(s.id.InfoHash, s.id.DisplayName, domain.SwarmStats{})
		out.Mode = s.Mode()
		return out
	}
	out := domain.NewSessionStats(s.id.InfoHash, s.Name(), h.Stats())
	out.Mode = s.Mode()
	cache := s.pieceCache()
	if cache != nil {
		layout := s.Layout()
		out.CachedBytes = cache.Bytes()
		out.NumPieces = layout.NumPieces
		out.PieceBitfield = base64.StdEncoding.EncodeToString(cache.Bitfield())
		if f, ok := domain.LargestFile(h.Files()); ok && f.Length > 0 {
			out.Ready = cache.Has(layout.PieceAt(f.Offset))
		}
	}
	return out
}

// CachedBytes reports the payload bytes currently held for this session.
func (s *SwarmSession) CachedBytes() int64 {
	if cache := s.pieceCache(); cache != nil {
		return cache.Bytes()
	}
	return 0
}

func (s *SwarmSession) attach(h ports.SwarmHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !domain.CanTransition(s.mode, domain.ModeActive) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, s.mode, domain.ModeActive)
	}
	if s.cache == nil {
		return fmt.Errorf("%w: swarm never opened the piece sink", ErrEngine)
	}
	s.handle = h
	s.mode = domain.ModeActive
	return nil
}

// Close releases waiters, the swarm handle and every cached piece. Safe to
// call more than once.
func (s *SwarmSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.mode = domain.ModeClosing
		h := s.handle
		cache := s.cache
		s.mu.Unlock()

		close(s.done)
		if h != nil {
			err = h.Close()
		}
		if cache != nil {
			cache.Clear()
		}

		s.mu.Lock()
		s.mode = domain.ModeClosed
		s.mu.Unlock()
	})
	return err
}

func (s *SwarmSession) invalidate(index int) {
	metrics.PieceEvictionsTotal.Inc()
	if h := s.swarmHandle(); h != nil {
		h.Invalidate(index)
	}
}

func (s *SwarmSession) pieceCache() ports.PieceCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

func (s *SwarmSession) swarmHandle() ports.SwarmHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *SwarmSession) schedule() (*piecePlan, ports.SwarmHandle, domain.PieceLayout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan, s.handle, s.layout
}
