package memory

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"seekstream/internal/domain"
	"seekstream/internal/domain/ports"
)

// Store is a byte-budgeted LRU of verified pieces for one session. The sum of
// cached piece lengths never exceeds maxBytes. Stored slices are never written
// after Put, so Get hands them out without copying.
type Store struct {
	mu      sync.Mutex
	pieces  map[int]*pieceEntry
	lru     *list.List
	cached  *roaring.Bitmap
	protect map[int]int

	layout   domain.PieceLayout
	maxBytes int64
	curBytes int64
	onEvict  func(index int)
}

var _ ports.PieceCache = (*Store)(nil)

type pieceEntry struct {
	data []byte
	elem *list.Element
}

type StoreOption func(*Store)

func WithMaxBytes(max int64) StoreOption {
	return func(s *Store) {
		if max > 0 {
			s.maxBytes = max
		}
	}
}

// WithEvictHandler registers fn to be called, outside the store lock, for
// every piece removed to make room.
func WithEvictHandler(fn func(index int)) StoreOption {
	return func(s *Store) {
		s.onEvict = fn
	}
}

func NewStore(layout domain.PieceLayout, opts ...StoreOption) (*Store, error) {
	s := &Store{
		pieces:  make(map[int]*pieceEntry),
		lru:     list.New(),
		cached:  roaring.New(),
		protect: make(map[int]int),
		layout:  layout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if layout.PieceLength <= 0 {
		return nil, fmt.Errorf("%w: piece length %d", domain.ErrCacheConfig, layout.PieceLength)
	}
	if s.maxBytes > 0 && layout.PieceLength > s.maxBytes {
		return nil, fmt.Errorf("%w: piece length %d exceeds cache budget %d",
			domain.ErrCacheConfig, layout.PieceLength, s.maxBytes)
	}
	return s, nil
}

// Put caches a verified piece, evicting least recently used unprotected
// pieces as needed. If the budget still cannot hold it, the new piece itself
// is discarded.
func (s *Store) Put(index int, data []byte) error {
	want := s.layout.PieceSize(index)
	if want == 0 {
		return fmt.Errorf("%w: piece %d out of range", domain.ErrCorruptPiece, index)
	}
	if int64(len(data)) != want {
		return fmt.Errorf("%w: piece %d has %d bytes, want %d", domain.ErrCorruptPiece, index, len(data), want)
	}
	copied := make([]byte, len(data))
	copy(copied, data)

	s.mu.Lock()
	if item, ok := s.pieces[index]; ok {
		s.curBytes -= int64(len(item.data))
		item.data = copied
		s.lru.MoveToFront(item.elem)
	} else {
		s.pieces[index] = &pieceEntry{data: copied, elem: s.lru.PushFront(index)}
		s.cached.Add(uint32(index))
	}
	s.curBytes += want
	evicted := s.evictLocked(index)
	if s.maxBytes > 0 && s.curBytes > s.maxBytes {
		s.removeLocked(index)
		evicted = append(evicted, index)
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	if onEvict != nil {
		for _, idx := range evicted {
			onEvict(idx)
		}
	}
	return nil
}

// Get returns the cached payload without blocking. Callers must not modify it.
func (s *Store) Get(index int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.pieces[index]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(item.elem)
	return item.data, true
}

func (s *Store) Has(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pieces[index]
	return ok
}

// Drop removes a piece without invoking the evict handler.
func (s *Store) Drop(index int) {
	s.mu.Lock()
	s.removeLocked(index)
	s.mu.Unlock()
}

// Protect pins the inclusive piece range against eviction. Calls nest.
func (s *Store) Protect(first, last int) {
	s.mu.Lock()
	for i := first; i <= last; i++ {
		s.protect[i]++
	}
	s.mu.Unlock()
}

func (s *Store) Release(first, last int) {
	s.mu.Lock()
	for i := first; i <= last; i++ {
		if n := s.protect[i]; n > 1 {
			s.protect[i] = n - 1
		} else {
			delete(s.protect, i)
		}
	}
	s.mu.Unlock()
}

func (s *Store) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curBytes
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pieces)
}

// Bitfield reports the cached pieces as a BitTorrent-style bitfield: piece 0
// is the high bit of the first byte.
func (s *Store) Bitfield() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, (s.layout.NumPieces+7)/8)
	it := s.cached.Iterator()
	for it.HasNext() {
		i := it.Next()
		buf[i/8] |= 1 << (7 - i%8)
	}
	return buf
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.pieces = make(map[int]*pieceEntry)
	s.lru.Init()
	s.cached.Clear()
	s.protect = make(map[int]int)
	s.curBytes = 0
	s.mu.Unlock()
}

func (s *Store) removeLocked(index int) {
	item, ok := s.pieces[index]
	if !ok {
		return
	}
	s.lru.Remove(item.elem)
	s.curBytes -= int64(len(item.data))
	delete(s.pieces, index)
	s.cached.Remove(uint32(index))
}

// evictLocked walks from the cold end, skipping protected pieces and keep.
func (s *Store) evictLocked(keep int) []int {
	if s.maxBytes <= 0 {
		return nil
	}
	var evicted []int
	for e := s.lru.Back(); e != nil && s.curBytes > s.maxBytes; {
		prev := e.Prev()
		idx, _ := e.Value.(int)
		if idx != keep && s.protect[idx] == 0 {
			s.removeLocked(idx)
			evicted = append(evicted, idx)
		}
		e = prev
	}
	return evicted
}

// NewCacheFactory returns a constructor of per-session stores sharing the
// same byte budget. Layouts with pieces longer than maxPieceLength are
// rejected with domain.ErrCacheConfig; zero disables that check.
func NewCacheFactory(maxBytes, maxPieceLength int64) func(domain.PieceLayout, func(int)) (ports.PieceCache, error) {
	return func(layout domain.PieceLayout, onEvict func(int)) (ports.PieceCache, error) {
		if maxPieceLength > 0 && layout.PieceLength > maxPieceLength {
			return nil, fmt.Errorf("%w: piece length %d exceeds limit %d",
				domain.ErrCacheConfig, layout.PieceLength, maxPieceLength)
		}
		s, err := NewStore(layout, WithMaxBytes(maxBytes), WithEvictHandler(onEvict))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
