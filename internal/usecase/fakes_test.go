package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"seekstream/internal/domain"
	"seekstream/internal/domain/ports"
	"seekstream/internal/storage/memory"
)

type tierCall struct {
	start, end int
	tier       domain.Tier
	deselect   bool
}

type fakeSwarm struct {
	mu      sync.Mutex
	adds    int
	addErr  error
	gate    chan struct{}
	layout  domain.PieceLayout
	files   []domain.FileRef
	content []byte
	handles []*fakeHandle
}

func newFakeSwarm(pieceLength int64, files ...domain.FileRef) *fakeSwarm {
	var total int64
	for i := range files {
		files[i].Index = i
		files[i].Offset = total
		total += files[i].Length
	}
	content := make([]byte, total)
	for i := range content {
		content[i] = byte(i*7 + i/251)
	}
	return &fakeSwarm{
		layout:  domain.NewPieceLayout(pieceLength, total),
		files:   files,
		content: content,
	}
}

func (f *fakeSwarm) Add(ctx context.Context, id domain.Identifier, sink ports.PieceSink) (ports.SwarmHandle, error) {
	f.mu.Lock()
	f.adds++
	addErr, gate := f.addErr, f.gate
	f.mu.Unlock()

	if addErr != nil {
		return nil, addErr
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := sink.Open(f.layout); err != nil {
		return nil, err
	}
	h := &fakeHandle{swarm: f, sink: sink, name: id.DisplayName}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

func (f *fakeSwarm) Close() error { return nil }

func (f *fakeSwarm) addCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adds
}

func (f *fakeSwarm) lastHandle() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

func (f *fakeSwarm) pieceData(index int) []byte {
	off := f.layout.PieceOffset(index)
	return f.content[off : off+f.layout.PieceSize(index)]
}

type fakeHandle struct {
	swarm *fakeSwarm
	sink  ports.PieceSink
	name  string

	mu          sync.Mutex
	calls       []tierCall
	invalidated []int
	closed      bool
	autoDeliver bool
}

func (h *fakeHandle) Name() string               { return h.name }
func (h *fakeHandle) Layout() domain.PieceLayout { return h.swarm.layout }
func (h *fakeHandle) Files() []domain.FileRef    { return h.swarm.files }

func (h *fakeHandle) Select(start, end int, tier domain.Tier) {
	h.mu.Lock()
	h.calls = append(h.calls, tierCall{start: start, end: end, tier: tier})
	auto := h.autoDeliver
	h.mu.Unlock()
	if auto {
		go func() {
			for p := start; p <= end; p++ {
				if _, ok := h.sink.Get(p); !ok {
					_ = h.sink.Put(p, h.swarm.pieceData(p))
				}
			}
		}()
	}
}

func (h *fakeHandle) Deselect(start, end int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, tierCall{start: start, end: end, deselect: true})
}

func (h *fakeHandle) Invalidate(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invalidated = append(h.invalidated, index)
}

func (h *fakeHandle) Stats() domain.SwarmStats {
	return domain.SwarmStats{TotalBytes: h.swarm.layout.TotalLength, BytesCompleted: h.swarm.layout.TotalLength / 2, DownloadRate: 1000, Peers: 4}
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) setAutoDeliver(v bool) {
	h.mu.Lock()
	h.autoDeliver = v
	h.mu.Unlock()
}

func (h *fakeHandle) takeCalls() []tierCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.calls
	h.calls = nil
	return out
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) deliver(first, last int) {
	for p := first; p <= last; p++ {
		_ = h.sink.Put(p, h.swarm.pieceData(p))
	}
}

const testInfoHash = "0123456789abcdef0123456789abcdef01234567"

func testIdentifier() domain.Identifier {
	id, err := domain.ParseIdentifier(testInfoHash)
	if err != nil {
		panic(err)
	}
	return id
}

func newTestRegistry(swarm ports.Swarm, budget int64, opts ...RegistryOption) *SessionRegistry {
	return NewSessionRegistry(swarm, memory.NewCacheFactory(budget, 0), opts...)
}

func mustSession(reg *SessionRegistry) *SwarmSession {
	s, err := reg.GetOrCreate(context.Background(), testIdentifier())
	if err != nil {
		panic(err)
	}
	return s
}

var errBoom = errors.New("boom")

// waitFor polls cond until it holds or a second passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// tierOf reports the tier currently assigned to piece index.
func (ps PriorityScheduler) tierOf(s *SwarmSession, index int) domain.Tier {
	plan, _, _ := s.schedule()
	if plan == nil {
		return domain.TierSuspended
	}
	plan.mu.Lock()
	defer plan.mu.Unlock()
	if index < 0 || index >= len(plan.assigned) {
		return domain.TierSuspended
	}
	return plan.assigned[index]
}
