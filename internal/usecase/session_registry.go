package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"seekstream/internal/domain"
	"seekstream/internal/domain/ports"
	"seekstream/internal/metrics"
)

const defaultAddTimeout = 60 * time.Second

// SessionRegistry maps infohash to SwarmSession. Concurrent requests for the
// same identifier share one swarm add.
type SessionRegistry struct {
	swarm       ports.Swarm
	newCache    CacheFactory
	addTimeout  time.Duration
	maxSessions int
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*SwarmSession
	closed   bool
	adds     singleflight.Group
}

type RegistryOption func(*SessionRegistry)

func WithAddTimeout(d time.Duration) RegistryOption {
	return func(r *SessionRegistry) {
		if d > 0 {
			r.addTimeout = d
		}
	}
}

// WithMaxSessions caps live sessions; zero means unlimited.
func WithMaxSessions(n int) RegistryOption {
	return func(r *SessionRegistry) {
		if n >= 0 {
			r.maxSessions = n
		}
	}
}

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *SessionRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewSessionRegistry(swarm ports.Swarm, newCache CacheFactory, opts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		swarm:      swarm,
		newCache:   newCache,
		addTimeout: defaultAddTimeout,
		logger:     slog.Default(),
		sessions:   make(map[string]*SwarmSession),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the live session for id, joining the swarm only when
// none exists yet.
func (r *SessionRegistry) GetOrCreate(ctx context.Context, id domain.Identifier) (*SwarmSession, error) {
	if s := r.lookup(id.InfoHash); s != nil {
		return s, nil
	}
	v, err, _ := r.adds.Do(id.InfoHash, func() (any, error) {
		if s := r.lookup(id.InfoHash); s != nil {
			return s, nil
		}
		if err := r.checkCapacity(); err != nil {
			return nil, err
		}
		return r.create(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SwarmSession), nil
}

func (r *SessionRegistry) create(ctx context.Context, id domain.Identifier) (*SwarmSession, error) {
	// Shared by every caller waiting on this add, so one caller leaving must
	// not abort it.
	addCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.addTimeout)
	defer cancel()

	started := time.Now()
	sess := newSwarmSession(id, r.newCache, r.logger)
	h, err := r.swarm.Add(addCtx, id, sess)
	if err != nil {
		_ = sess.Close()
		r.logger.Warn("swarm add failed", slog.String("infoHash", id.InfoHash), slog.String("error", err.Error()))
		if errors.Is(err, domain.ErrSwarmAdd) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrSwarmAdd, err)
	}
	if err := sess.attach(h); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrSwarmAdd, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = sess.Close()
		return nil, domain.ErrSessionGone
	}
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		_ = sess.Close()
		return nil, domain.ErrSessionLimitReached
	}
	r.sessions[id.InfoHash] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(float64(count))
	layout := sess.Layout()
	r.logger.Info("session added",
		slog.String("infoHash", id.InfoHash),
		slog.String("name", sess.Name()),
		slog.Int("pieces", layout.NumPieces),
		slog.Int64("pieceLength", layout.PieceLength),
		slog.Duration("elapsed", time.Since(started)),
	)
	return sess, nil
}

// Get returns the live session for infoHash or domain.ErrNotFound.
func (r *SessionRegistry) Get(infoHash string) (*SwarmSession, error) {
	if s := r.lookup(infoHash); s != nil {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

// List returns live sessions ordered by infohash.
func (r *SessionRegistry) List() []*SwarmSession {
	r.mu.Lock()
	out := make([]*SwarmSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Remove tears the session down and reports whether it existed. Unknown
// identifiers are a no-op.
func (r *SessionRegistry) Remove(infoHash string) bool {
	r.mu.Lock()
	s, ok := r.sessions[infoHash]
	delete(r.sessions, infoHash)
	count := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return false
	}

	metrics.ActiveSessions.Set(float64(count))
	if err := s.Close(); err != nil {
		r.logger.Warn("session close failed", slog.String("infoHash", infoHash), slog.String("error", err.Error()))
	}
	r.logger.Info("session removed", slog.String("infoHash", infoHash))
	return true
}

// RemoveAll destroys every session and refuses further adds. In-flight reads
// observe domain.ErrSessionGone.
func (r *SessionRegistry) RemoveAll() {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*SwarmSession)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for id, s := range sessions {
		wg.Add(1)
		go func(id string, s *SwarmSession) {
			defer wg.Done()
			if err := s.Close(); err != nil {
				r.logger.Warn("session close failed", slog.String("infoHash", id), slog.String("error", err.Error()))
			}
		}(id, s)
	}
	wg.Wait()
	metrics.ActiveSessions.Set(0)
}

func (r *SessionRegistry) lookup(infoHash string) *SwarmSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[infoHash]
}

func (r *SessionRegistry) checkCapacity() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.ErrSessionGone
	}
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return domain.ErrSessionLimitReached
	}
	return nil
}
