package usecase

import (
	"seekstream/internal/domain"
)

type GetTorrentState struct {
	Registry *SessionRegistry
}

func (uc GetTorrentState) Execute(raw string) (domain.SessionStats, error) {
	id, err := domain.ParseIdentifier(raw)
	if err != nil {
		return domain.SessionStats{}, domain.ErrNotFound
	}
	session, err := uc.Registry.Get(id.InfoHash)
	if err != nil {
		return domain.SessionStats{}, err
	}
	return session.Stats(), nil
}

type ListTorrents struct {
	Registry *SessionRegistry
}

func (uc ListTorrents) Execute() []TorrentView {
	sessions := uc.Registry.List()
	out := make([]TorrentView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, describeSession(s))
	}
	return out
}
