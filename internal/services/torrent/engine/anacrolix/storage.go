package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"seekstream/internal/domain"
	"seekstream/internal/domain/ports"
)

// pieceStorage is the storage backend of one torrent. Chunks of a piece being
// downloaded are staged until the client verifies the piece, at which point
// the whole piece moves into the sink. Complete pieces live only in the sink.
type pieceStorage struct {
	sink ports.PieceSink

	mu      sync.Mutex
	staging map[int][]byte
}

var _ storage.ClientImpl = (*pieceStorage)(nil)

func newPieceStorage(sink ports.PieceSink) *pieceStorage {
	return &pieceStorage{sink: sink, staging: make(map[int][]byte)}
}

func (s *pieceStorage) OpenTorrent(_ context.Context, info *metainfo.Info, _ metainfo.Hash) (storage.TorrentImpl, error) {
	layout := domain.NewPieceLayout(info.PieceLength, info.TotalLength())
	if err := s.sink.Open(layout); err != nil {
		return storage.TorrentImpl{}, err
	}
	return storage.TorrentImpl{
		Piece: func(p metainfo.Piece) storage.PieceImpl {
			return &piece{storage: s, index: p.Index(), length: p.Length()}
		},
		Close: s.close,
	}, nil
}

func (s *pieceStorage) close() error {
	s.mu.Lock()
	s.staging = make(map[int][]byte)
	s.mu.Unlock()
	return nil
}

type piece struct {
	storage *pieceStorage
	index   int
	length  int64
}

var errPieceAbsent = errors.New("piece data not held")

func (p *piece) ReadAt(b []byte, off int64) (int, error) {
	data, ok := p.storage.sink.Get(p.index)
	if !ok {
		p.storage.mu.Lock()
		staged, staging := p.storage.staging[p.index]
		if staging {
			n := copyAt(b, staged, off)
			p.storage.mu.Unlock()
			return n, readResult(n, len(b))
		}
		p.storage.mu.Unlock()
		return 0, fmt.Errorf("%w: piece %d", errPieceAbsent, p.index)
	}
	n := copyAt(b, data, off)
	return n, readResult(n, len(b))
}

func (p *piece) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(b)) > p.length {
		return 0, fmt.Errorf("write [%d, %d) outside piece %d of length %d", off, off+int64(len(b)), p.index, p.length)
	}
	p.storage.mu.Lock()
	defer p.storage.mu.Unlock()
	buf, ok := p.storage.staging[p.index]
	if !ok {
		buf = make([]byte, p.length)
		p.storage.staging[p.index] = buf
	}
	return copy(buf[off:], b), nil
}

func (p *piece) MarkComplete() error {
	p.storage.mu.Lock()
	buf, ok := p.storage.staging[p.index]
	delete(p.storage.staging, p.index)
	p.storage.mu.Unlock()
	if !ok {
		if p.storage.sink.Has(p.index) {
			return nil
		}
		return fmt.Errorf("%w: piece %d", errPieceAbsent, p.index)
	}
	return p.storage.sink.Put(p.index, buf)
}

func (p *piece) MarkNotComplete() error {
	p.storage.sink.Drop(p.index)
	return nil
}

func (p *piece) Completion() storage.Completion {
	return storage.Completion{Complete: p.storage.sink.Has(p.index), Ok: true}
}

func copyAt(dst, src []byte, off int64) int {
	if off < 0 || off >= int64(len(src)) {
		return 0
	}
	return copy(dst, src[off:])
}

func readResult(n, want int) error {
	if n < want {
		return io.EOF
	}
	return nil
}
