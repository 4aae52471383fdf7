package usecase

import (
	"seekstream/internal/domain"
)

type DeleteTorrent struct {
	Registry *SessionRegistry
}

// Execute removes the session; unknown identifiers yield domain.ErrNotFound
// so callers can report them, though removal itself is idempotent.
func (uc DeleteTorrent) Execute(raw string) error {
	id, err := domain.ParseIdentifier(raw)
	if err != nil {
		return domain.ErrNotFound
	}
	if !uc.Registry.Remove(id.InfoHash) {
		return domain.ErrNotFound
	}
	return nil
}
