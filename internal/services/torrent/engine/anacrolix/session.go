package anacrolix

import (
	"log/slog"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"seekstream/internal/domain"
	"seekstream/internal/domain/ports"
)

type swarmHandle struct {
	engine *Engine
	t      *torrent.Torrent
	id     string
	layout domain.PieceLayout
	files  []domain.FileRef

	closeOnce sync.Once
}

var _ ports.SwarmHandle = (*swarmHandle)(nil)

func (h *swarmHandle) Name() string               { return h.t.Name() }
func (h *swarmHandle) Layout() domain.PieceLayout { return h.layout }

func (h *swarmHandle) Files() []domain.FileRef {
	out := make([]domain.FileRef, len(h.files))
	copy(out, h.files)
	return out
}

func (h *swarmHandle) Select(start, end int, tier domain.Tier) {
	h.setPriority(start, end, mapTier(tier))
}

func (h *swarmHandle) Deselect(start, end int) {
	h.setPriority(start, end, torrent.PiecePriorityNone)
}

// Invalidate makes the client re-check a piece the cache dropped, so that it
// stops serving it to peers and fetches it again when selected.
func (h *swarmHandle) Invalidate(index int) {
	if index < 0 || index >= h.layout.NumPieces {
		return
	}
	go h.t.Piece(index).VerifyData()
}

func (h *swarmHandle) Stats() domain.SwarmStats {
	stats := h.t.Stats()
	return domain.SwarmStats{
		BytesCompleted: h.t.BytesCompleted(),
		TotalBytes:     h.layout.TotalLength,
		DownloadRate:   h.engine.sampleSpeed(h.id, stats.BytesReadUsefulData.Int64(), time.Now().UTC()),
		Peers:          stats.ActivePeers,
	}
}

func (h *swarmHandle) Close() error {
	h.closeOnce.Do(func() {
		h.engine.dropTorrent(h.id, h.t)
	})
	return nil
}

func (h *swarmHandle) setPriority(start, end int, prio torrent.PiecePriority) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("setPriority recovered from panic",
				slog.Any("panic", rec),
				slog.String("infoHash", h.id),
			)
		}
	}()
	start = max(start, 0)
	end = min(end, h.layout.NumPieces-1)
	for i := start; i <= end; i++ {
		h.t.Piece(i).SetPriority(prio)
	}
}
