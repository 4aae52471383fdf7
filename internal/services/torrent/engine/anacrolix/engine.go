package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/dustin/go-humanize"

	"seekstream/internal/domain"
	"seekstream/internal/domain/ports"
)

// defaultMaxConns balances peer connections against resource usage.
const defaultMaxConns = 35

// speedWindow is the shortest interval a download rate is measured over.
// Reads inside the window return the last measured rate.
const speedWindow = time.Second

type Config struct {
	DataDir    string
	ListenPort int // 0 keeps the client default
	MaxConns   int // per torrent; 0 = defaultMaxConns
	Logger     *slog.Logger
}

// Engine joins swarms through an anacrolix client. Each added torrent stores
// its pieces in the sink it was added with instead of on disk.
type Engine struct {
	client   *torrent.Client
	maxConns int
	logger   *slog.Logger

	mu      sync.Mutex
	handles map[string]*swarmHandle

	speedMu sync.Mutex
	speeds  map[string]speedSample
}

var _ ports.Swarm = (*Engine)(nil)

type speedSample struct {
	at        time.Time
	bytesRead int64
	rate      int64
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	if cfg.ListenPort != 0 {
		clientConfig.ListenPort = cfg.ListenPort
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	e := NewWithClient(client)
	if cfg.MaxConns > 0 {
		e.maxConns = cfg.MaxConns
	}
	if cfg.Logger != nil {
		e.logger = cfg.Logger
	}
	return e, nil
}

func NewWithClient(client *torrent.Client) *Engine {
	return &Engine{
		client:   client,
		maxConns: defaultMaxConns,
		logger:   slog.Default(),
		handles:  make(map[string]*swarmHandle),
		speeds:   make(map[string]speedSample),
	}
}

// Add joins the swarm for id and blocks until metadata arrives or ctx ends.
// No piece is fetched until the caller selects it.
func (e *Engine) Add(ctx context.Context, id domain.Identifier, sink ports.PieceSink) (ports.SwarmHandle, error) {
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}
	var ih metainfo.Hash
	if err := ih.FromHexString(id.InfoHash); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidIdentifier, err)
	}

	store := newPieceStorage(sink)
	t, isNew := e.client.AddTorrentOpt(torrent.AddTorrentOpts{
		InfoHash: ih,
		Storage:  store,
	})
	if !isNew {
		return nil, fmt.Errorf("%w: %s already joined", domain.ErrSwarmAdd, id.InfoHash)
	}
	if len(id.Trackers) > 0 {
		t.AddTrackers([][]string{id.Trackers})
	}
	if id.DisplayName != "" {
		t.SetDisplayName(id.DisplayName)
	}
	t.SetMaxEstablishedConns(e.maxConns)

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		t.Drop()
		return nil, fmt.Errorf("%w: metadata for %s: %w", domain.ErrSwarmAdd, id.InfoHash, ctx.Err())
	}

	layout, files, err := describeTorrent(t)
	if err == nil {
		err = sink.Open(layout)
	}
	if err != nil {
		t.Drop()
		return nil, err
	}

	h := &swarmHandle{engine: e, t: t, id: id.InfoHash, layout: layout, files: files}
	e.mu.Lock()
	e.handles[id.InfoHash] = h
	e.mu.Unlock()

	e.logger.Info("swarm joined",
		slog.String("infoHash", id.InfoHash),
		slog.String("name", t.Name()),
		slog.Int("pieces", layout.NumPieces),
		slog.String("pieceLength", humanize.IBytes(uint64(layout.PieceLength))),
		slog.String("size", humanize.IBytes(uint64(layout.TotalLength))),
	)
	return h, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	handles := make([]*swarmHandle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()
	for _, h := range handles {
		_ = h.Close()
	}

	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

// Totals sums download rate and peers over every joined swarm.
func (e *Engine) Totals() (rate int64, peers int) {
	e.mu.Lock()
	handles := make([]*swarmHandle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()
	for _, h := range handles {
		s := h.Stats()
		rate += s.DownloadRate
		peers += s.Peers
	}
	return rate, peers
}

func (e *Engine) dropTorrent(id string, t *torrent.Torrent) {
	e.mu.Lock()
	delete(e.handles, id)
	e.mu.Unlock()
	e.forgetSpeed(id)
	t.Drop()
}

func describeTorrent(t *torrent.Torrent) (layout domain.PieceLayout, files []domain.FileRef, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("describeTorrent panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: torrent metadata unreadable", domain.ErrSwarmAdd)
		}
	}()

	info := t.Info()
	if info == nil {
		return layout, nil, fmt.Errorf("%w: torrent has no info", domain.ErrSwarmAdd)
	}
	layout = domain.NewPieceLayout(info.PieceLength, t.Length())
	if layout.NumPieces != t.NumPieces() {
		return layout, nil, fmt.Errorf("%w: piece count %d, expected %d", domain.ErrSwarmAdd, t.NumPieces(), layout.NumPieces)
	}
	for i, f := range t.Files() {
		files = append(files, domain.FileRef{
			Index:  i,
			Path:   f.Path(),
			Length: f.Length(),
			Offset: f.Offset(),
		})
	}
	return layout, files, nil
}

func (e *Engine) sampleSpeed(id string, bytesRead int64, now time.Time) int64 {
	e.speedMu.Lock()
	defer e.speedMu.Unlock()

	prev, ok := e.speeds[id]
	if !ok || prev.at.IsZero() {
		e.speeds[id] = speedSample{at: now, bytesRead: bytesRead}
		return 0
	}
	dt := now.Sub(prev.at)
	if dt < speedWindow {
		return prev.rate
	}
	delta := bytesRead - prev.bytesRead
	if delta < 0 {
		delta = 0
	}
	rate := int64(float64(delta) / dt.Seconds())
	e.speeds[id] = speedSample{at: now, bytesRead: bytesRead, rate: rate}
	return rate
}

func (e *Engine) forgetSpeed(id string) {
	e.speedMu.Lock()
	delete(e.speeds, id)
	e.speedMu.Unlock()
}
