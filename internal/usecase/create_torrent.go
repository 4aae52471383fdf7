package usecase

import (
	"context"
	"net/url"
	"strings"

	"seekstream/internal/domain"
)

// TorrentView is what clients learn about a session when they add it.
type TorrentView struct {
	domain.SessionStats
	Peers  int        `json:"peers"`
	Magnet string     `json:"magnet"`
	Files  []FileView `json:"files"`
}

type FileView struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Length     int64  `json:"length"`
	StreamPath string `json:"streamPath"`
}

type CreateTorrent struct {
	Registry *SessionRegistry
}

// Execute parses raw, joins or reuses the session and describes it.
func (uc CreateTorrent) Execute(ctx context.Context, raw string) (TorrentView, error) {
	id, err := domain.ParseIdentifier(raw)
	if err != nil {
		return TorrentView{}, err
	}
	session, err := uc.Registry.GetOrCreate(ctx, id)
	if err != nil {
		return TorrentView{}, err
	}
	return describeSession(session), nil
}

func describeSession(s *SwarmSession) TorrentView {
	files := s.Files()
	stats := s.Stats()
	view := TorrentView{
		SessionStats: stats,
		Peers:        stats.Peers,
		Magnet:       s.Identifier().Magnet(),
		Files:        make([]FileView, 0, len(files)),
	}
	for _, f := range files {
		view.Files = append(view.Files, FileView{
			Name:       f.Name(),
			Path:       f.Path,
			Length:     f.Length,
			StreamPath: StreamPath(s.ID(), f.Path),
		})
	}
	return view
}

// StreamPath builds the URL path serving filePath of session id.
func StreamPath(id, filePath string) string {
	parts := strings.Split(filePath, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/stream/" + id + "/" + strings.Join(parts, "/")
}
