package anacrolix

import (
	"github.com/anacrolix/torrent"

	"seekstream/internal/domain"
)

func mapTier(tier domain.Tier) torrent.PiecePriority {
	switch tier {
	case domain.TierCritical:
		return torrent.PiecePriorityNow
	case domain.TierHigh:
		return torrent.PiecePriorityReadahead
	case domain.TierNormal:
		return torrent.PiecePriorityNormal
	default:
		return torrent.PiecePriorityNone
	}
}
