package domain

import "time"

// SwarmStats is the raw transfer snapshot reported by the swarm collaborator.
type SwarmStats struct {
	BytesCompleted int64
	TotalBytes     int64
	DownloadRate   int64 // bytes/sec
	Peers          int
}

// SessionStats is the client-facing view of a session's transfer state.
type SessionStats struct {
	ID            string      `json:"identifier"`
	Name          string      `json:"name,omitempty"`
	Progress      float64     `json:"progress"`
	DownloadRate  int64       `json:"downloadRate"`
	Peers         int         `json:"peerCount"`
	TimeRemaining int64       `json:"timeRemaining"` // milliseconds, -1 when unknown
	CachedBytes   int64       `json:"cachedBytes"`
	Ready         bool        `json:"ready"`
	Mode          SessionMode `json:"mode,omitempty"`
	NumPieces     int         `json:"numPieces,omitempty"`
	PieceBitfield string      `json:"pieceBitfield,omitempty"` // base64 of the cached-piece bitfield
}

// NewSessionStats derives progress and remaining time from a swarm snapshot.
func NewSessionStats(id, name string, s SwarmStats) SessionStats {
	out := SessionStats{ID: id, Name: name, DownloadRate: s.DownloadRate, Peers: s.Peers, TimeRemaining: -1}
	if s.TotalBytes > 0 {
		out.Progress = float64(s.BytesCompleted) / float64(s.TotalBytes)
		if out.Progress > 1 {
			out.Progress = 1
		}
	}
	remaining := s.TotalBytes - s.BytesCompleted
	switch {
	case remaining <= 0:
		out.TimeRemaining = 0
	case s.DownloadRate > 0:
		out.TimeRemaining = (time.Duration(float64(remaining)/float64(s.DownloadRate)*float64(time.Second))).Milliseconds()
	}
	return out
}
