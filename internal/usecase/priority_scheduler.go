package usecase

import (
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"seekstream/internal/domain"
	"seekstream/internal/domain/ports"
	"seekstream/internal/metrics"
)

const (
	criticalPieces = 10
	highPieces     = 10

	DefaultPieceBufferSize = 50
	DefaultDeselectMargin  = 30
)

// PriorityScheduler biases a session's fetch order toward the pieces its
// readers are consuming. Each reader holds at most one intent per session; the
// tier of a piece is the highest any live intent assigns it.
type PriorityScheduler struct {
	BufferPieces   int
	DeselectMargin int
	Logger         *slog.Logger
}

// piecePlan is the per-session tier state. All mutation and the resulting
// swarm directives happen under mu so directives are issued in order.
type piecePlan struct {
	mu       sync.Mutex
	assigned []domain.Tier
	intents  map[string]readerIntent
	gen      uint64
	reach    int // every piece above reach is Suspended
}

type readerIntent struct {
	gen   uint64
	start int
	end   int
}

func newPiecePlan(numPieces int) *piecePlan {
	// Nothing is fetched until a reader asks for it.
	return &piecePlan{
		assigned: make([]domain.Tier, numPieces),
		intents:  make(map[string]readerIntent),
		reach:    -1,
	}
}

// Apply records reader's intent for the file-relative range r, superseding
// any earlier intent of the same reader, and issues select/deselect directives
// only for pieces whose tier changed. The returned generation identifies the
// intent for Relax.
func (ps PriorityScheduler) Apply(s *SwarmSession, reader string, file domain.FileRef, r domain.ByteRange) uint64 {
	plan, handle, layout := s.schedule()
	if plan == nil || handle == nil || layout.NumPieces == 0 {
		return 0
	}
	start, end := layout.PieceSpan(file.AbsRange(r))

	plan.mu.Lock()
	defer plan.mu.Unlock()

	lo := start
	if old, ok := plan.intents[reader]; ok && old.start < lo {
		lo = old.start
	}
	plan.gen++
	gen := plan.gen
	plan.intents[reader] = readerIntent{gen: gen, start: start, end: end}

	ps.reconcileLocked(plan, handle, lo, layout.LastPiece())
	return gen
}

// Relax withdraws reader's intent if gen is still its live one. Pieces no
// longer wanted by any reader drop from Critical/High to Normal.
func (ps PriorityScheduler) Relax(s *SwarmSession, reader string, gen uint64) {
	plan, handle, layout := s.schedule()
	if plan == nil || handle == nil {
		return
	}
	plan.mu.Lock()
	defer plan.mu.Unlock()

	in, ok := plan.intents[reader]
	if !ok || in.gen != gen {
		return
	}
	delete(plan.intents, reader)
	ps.reconcileLocked(plan, handle, in.start, layout.LastPiece())
}

// opinion returns the tier intent in assigns to piece, if any. Pieces between
// the buffer end and the deselect point carry no opinion and keep whatever
// tier they had.
func (ps PriorityScheduler) opinion(in readerIntent, piece, last int) (domain.Tier, bool) {
	d := piece - in.start
	buffer := ps.bufferPieces()
	switch {
	case d < 0 || piece > last:
		return 0, false
	case d < criticalPieces:
		return domain.TierCritical, true
	case d < criticalPieces+highPieces:
		return domain.TierHigh, true
	case d < buffer:
		return domain.TierNormal, true
	case d > buffer+ps.deselectMargin():
		return domain.TierSuspended, true
	default:
		return 0, false
	}
}

// reconcileLocked recomputes tiers from lo up to the furthest piece that is
// either non-Suspended or inside some reader's deselect point. Pieces past
// that bound are Suspended already and every reader agrees they stay so.
func (ps PriorityScheduler) reconcileLocked(plan *piecePlan, handle ports.SwarmHandle, lo, last int) {
	hi := plan.reach
	for _, in := range plan.intents {
		hi = max(hi, in.start+ps.bufferPieces()+ps.deselectMargin())
	}
	hi = min(hi, last)
	lo = max(lo, 0)

	reach := -1
	changed := map[domain.Tier]*roaring.Bitmap{}
	for p := lo; p <= hi; p++ {
		cur := plan.assigned[p]
		next, held := domain.TierSuspended, false
		for _, in := range plan.intents {
			if t, ok := ps.opinion(in, p, last); ok && (!held || t > next) {
				next, held = t, true
			}
		}
		if !held {
			next = cur
			if cur == domain.TierCritical || cur == domain.TierHigh {
				next = domain.TierNormal
			}
		}
		if next != domain.TierSuspended {
			reach = p
		}
		if next == cur {
			continue
		}
		plan.assigned[p] = next
		bm := changed[next]
		if bm == nil {
			bm = roaring.New()
			changed[next] = bm
		}
		bm.Add(uint32(p))
	}
	plan.reach = max(reach, min(plan.reach, lo-1))

	for _, tier := range []domain.Tier{domain.TierCritical, domain.TierHigh, domain.TierNormal, domain.TierSuspended} {
		bm := changed[tier]
		if bm == nil {
			continue
		}
		metrics.TierChangesTotal.WithLabelValues(tier.String()).Add(float64(bm.GetCardinality()))
		ps.logger().Debug("piece tiers changed",
			slog.String("tier", tier.String()),
			slog.Uint64("pieces", bm.GetCardinality()),
			slog.Int("readers", len(plan.intents)),
		)
		for _, run := range pieceRuns(bm) {
			if tier == domain.TierSuspended {
				handle.Deselect(run[0], run[1])
			} else {
				handle.Select(run[0], run[1], tier)
			}
		}
	}
}

// pieceRuns collapses a bitmap into inclusive runs of consecutive indices.
func pieceRuns(bm *roaring.Bitmap) [][2]int {
	var runs [][2]int
	it := bm.Iterator()
	for it.HasNext() {
		p := int(it.Next())
		if n := len(runs); n > 0 && runs[n-1][1] == p-1 {
			runs[n-1][1] = p
			continue
		}
		runs = append(runs, [2]int{p, p})
	}
	return runs
}

func (ps PriorityScheduler) bufferPieces() int {
	if ps.BufferPieces < criticalPieces+highPieces {
		if ps.BufferPieces <= 0 {
			return DefaultPieceBufferSize
		}
		return criticalPieces + highPieces
	}
	return ps.BufferPieces
}

func (ps PriorityScheduler) logger() *slog.Logger {
	if ps.Logger == nil {
		return slog.Default()
	}
	return ps.Logger
}

func (ps PriorityScheduler) deselectMargin() int {
	if ps.DeselectMargin <= 0 {
		return DefaultDeselectMargin
	}
	return ps.DeselectMargin
}
