package apihttp

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTorrent(w, r)
	case http.MethodGet:
		s.handleListTorrents(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// createTorrentJSON accepts the identifier under either name; magnetLink is
// what older clients send.
type createTorrentJSON struct {
	Identifier string `json:"identifier"`
	MagnetLink string `json:"magnetLink"`
}

const maxCreateBodyBytes = 64 << 10

func (s *Server) handleCreateTorrent(w http.ResponseWriter, r *http.Request) {
	if s.createTorrent == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "create torrent use case not configured")
		return
	}

	var body createTorrentJSON
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCreateBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	raw := strings.TrimSpace(body.Identifier)
	if raw == "" {
		raw = strings.TrimSpace(body.MagnetLink)
	}
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "identifier is required")
		return
	}

	view, err := s.createTorrent.Execute(r.Context(), raw)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListTorrents(w http.ResponseWriter, r *http.Request) {
	if s.listTorrents == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "list torrents use case not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.listTorrents.Execute())
}

func (s *Server) handleTorrentByID(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/torrents/"), "/")
	if path == "" {
		http.NotFound(w, r)
		return
	}

	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleDeleteTorrent(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "status":
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleGetTorrentState(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetTorrentState(w http.ResponseWriter, r *http.Request, id string) {
	if s.getState == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "torrent state use case not configured")
		return
	}
	state, err := s.getState.Execute(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type deleteResponse struct {
	Identifier string `json:"identifier"`
	Removed    bool   `json:"removed"`
}

func (s *Server) handleDeleteTorrent(w http.ResponseWriter, r *http.Request, id string) {
	if s.deleteTorrent == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "delete torrent use case not configured")
		return
	}
	if err := s.deleteTorrent.Execute(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Identifier: id, Removed: true})
}
