package apihttp

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"seekstream/internal/usecase"
)

// handleStream serves GET and HEAD /stream/{id}/{filePath}. Every answer with
// a body is a 206 for a span no longer than the stream cache size; clients
// continue with follow-up range requests.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.streamer == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "range streamer not configured")
		return
	}

	id, filePath, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/stream/"), "/")
	if !ok || id == "" || filePath == "" {
		http.NotFound(w, r)
		return
	}

	req, err := parseRangeHeader(r.Header.Get("Range"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stream, err := s.streamer.Open(strings.ToLower(id), filePath, req, r.RemoteAddr)
	if err != nil {
		var rangeErr *usecase.RangeNotSatisfiableError
		if errors.As(err, &rangeErr) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", rangeErr.FileLength))
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable", err.Error())
			return
		}
		writeDomainError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", stream.ContentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", stream.Range.Start, stream.Range.End, stream.File.Length))
	h.Set("Content-Length", strconv.FormatInt(stream.Length(), 10))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusPartialContent)

	if r.Method == http.MethodHead {
		return
	}
	// Failures are logged by the stream; a short body is all the client sees.
	_, _ = stream.WriteTo(r.Context(), w)
}
