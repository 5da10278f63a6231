package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"jitstream/internal/domain"
)

func (s *Server) handlePlaybackHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "playback history not configured")
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	if limit <= 0 {
		limit = 20
	}

	positions, err := s.history.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list playback history")
		return
	}

	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handlePlaybackHistoryByID(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "playback history not configured")
		return
	}

	tail := strings.TrimPrefix(r.URL.Path, "/playback-history/")
	parts := strings.SplitN(tail, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.NotFound(w, r)
		return
	}

	videoID := domain.VideoID(parts[0])
	variant := parts[1]

	switch r.Method {
	case http.MethodGet:
		pos, err := s.history.Get(r.Context(), videoID, variant)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "no playback position found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to get playback position")
			return
		}
		writeJSON(w, http.StatusOK, pos)

	case http.MethodPut:
		var body struct {
			Segment         int     `json:"segment"`
			PositionSeconds float64 `json:"positionSeconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
		if body.Segment < 0 || body.PositionSeconds < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "segment and positionSeconds must be >= 0")
			return
		}

		pos := domain.PlaybackPosition{
			VideoID:         videoID,
			Variant:         variant,
			Segment:         body.Segment,
			PositionSeconds: body.PositionSeconds,
			UpdatedAt:       time.Now().UTC(),
		}
		if err := s.history.Upsert(r.Context(), pos); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to save playback position")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
