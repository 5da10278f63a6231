package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"jitstream/internal/domain"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeStreamError maps supervisor error kinds onto the HLS endpoint
// contract. Timeout and disabled carry fixed plain-text bodies that players
// and the UI match on literally; everything else gets the JSON envelope. A
// timed-out segment wait is not a failure: the client gets 202 and is
// expected to retry the same URL.
func writeStreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		http.Error(w, "segment is being generated", http.StatusAccepted)
	case errors.Is(err, domain.ErrDisabled):
		http.Error(w, "JIT transcoding is disabled", http.StatusInternalServerError)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrTranscodeFailed):
		writeError(w, http.StatusInternalServerError, "transcode_failed", err.Error())
	case errors.Is(err, domain.ErrProbe):
		writeError(w, http.StatusInternalServerError, "probe_failed", err.Error())
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

func parsePositiveInt(value string, requirePositive bool) (int, error) {
	if strings.TrimSpace(value) == "" {
		return -1, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if requirePositive && parsed <= 0 {
		return 0, errors.New("must be > 0")
	}
	if !requirePositive && parsed < 0 {
		return 0, errors.New("must be >= 0")
	}
	return parsed, nil
}

// parseTicksQuery parses an optional int64 query parameter; a missing value
// returns (0, false, nil).
func parseTicksQuery(value string) (int64, bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, false, nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return parsed, true, nil
}

func segmentContentType(ext string) string {
	switch ext {
	case ".ts":
		return "video/mp2t"
	case ".m4s", ".mp4":
		return "video/mp4"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	default:
		return "application/octet-stream"
	}
}
