package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"seekstream/internal/domain"
	"seekstream/internal/usecase"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
	case errors.Is(err, usecase.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "not_found", "file not found")
	case errors.Is(err, domain.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
	case errors.Is(err, domain.ErrSessionLimitReached):
		writeError(w, http.StatusServiceUnavailable, "session_limit", err.Error())
	case errors.Is(err, domain.ErrSessionGone):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
	case errors.Is(err, domain.ErrSwarmAdd):
		writeError(w, http.StatusInternalServerError, "swarm_error", err.Error())
	case errors.Is(err, domain.ErrCacheConfig):
		writeError(w, http.StatusInternalServerError, "cache_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// parseRangeHeader turns a Range header into a request. An empty header yields
// nil. Only a single "bytes=" range is accepted; clamping against the file
// happens later, once its length is known.
func parseRangeHeader(value string) (*usecase.RangeRequest, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if !strings.HasPrefix(strings.ToLower(value), "bytes=") {
		return nil, domain.ErrInvalidRange
	}

	spec := strings.TrimSpace(value[len("bytes="):])
	if spec == "" || strings.Contains(spec, ",") {
		return nil, domain.ErrInvalidRange
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, domain.ErrInvalidRange
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return nil, domain.ErrInvalidRange
		}
		return &usecase.RangeRequest{Suffix: suffix, End: -1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, domain.ErrInvalidRange
	}
	if endStr == "" {
		return &usecase.RangeRequest{Start: start, End: -1}, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < 0 {
		return nil, domain.ErrInvalidRange
	}
	return &usecase.RangeRequest{Start: start, End: end}, nil
}
