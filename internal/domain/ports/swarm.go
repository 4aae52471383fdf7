package ports

import (
	"context"

	"seekstream/internal/domain"
)

// Swarm joins content swarms. Each Add yields an independent handle whose
// verified pieces are delivered to sink.
type Swarm interface {
	Add(ctx context.Context, id domain.Identifier, sink PieceSink) (SwarmHandle, error)
	Close() error
}

// SwarmHandle controls one joined swarm. Piece ranges are inclusive and
// absolute over the concatenated file space.
type SwarmHandle interface {
	Name() string
	Layout() domain.PieceLayout
	Files() []domain.FileRef
	Select(start, end int, tier domain.Tier)
	Deselect(start, end int)
	// Invalidate tells the swarm a delivered piece is no longer held locally.
	Invalidate(index int)
	Stats() domain.SwarmStats
	Close() error
}

// PieceSink receives verified pieces from a swarm handle. Open is called once
// the layout is known and must be idempotent.
type PieceSink interface {
	Open(layout domain.PieceLayout) error
	Put(index int, data []byte) error
	Get(index int) ([]byte, bool)
	Has(index int) bool
	Drop(index int)
}
