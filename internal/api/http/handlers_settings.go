package apihttp

import (
	"encoding/json"
	"net/http"

	"jitstream/internal/app"
)

// Encoding settings handlers.

var validPresets = map[string]bool{
	"ultrafast": true,
	"superfast": true,
	"veryfast":  true,
	"faster":    true,
	"fast":      true,
	"medium":    true,
	"slow":      true,
}

var validAudioBitrates = map[int]bool{
	96:  true,
	128: true,
	192: true,
	256: true,
	384: true,
}

func (s *Server) handleEncodingSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetEncodingSettings(w, r)
	case http.MethodPatch, http.MethodPut:
		s.handleUpdateEncodingSettings(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetEncodingSettings(w http.ResponseWriter, _ *http.Request) {
	if s.encoding == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "encoding settings not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.encoding.Get())
}

func (s *Server) handleUpdateEncodingSettings(w http.ResponseWriter, r *http.Request) {
	if s.encoding == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "encoding settings not configured")
		return
	}

	var body app.EncodingSettings
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}

	if body.Preset != "" && !validPresets[body.Preset] {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid preset")
		return
	}
	if body.CRF < 0 || body.CRF > 51 {
		writeError(w, http.StatusBadRequest, "invalid_request", "crf must be 0-51")
		return
	}
	if body.AudioBitrate != 0 && !validAudioBitrates[body.AudioBitrate] {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid audioBitrateKbps")
		return
	}

	// Merge with current values for partial updates.
	current := s.encoding.Get()
	if body.Preset == "" {
		body.Preset = current.Preset
	}
	if body.CRF == 0 {
		body.CRF = current.CRF
	}
	if body.AudioBitrate == 0 {
		body.AudioBitrate = current.AudioBitrate
	}

	if err := s.encoding.Update(body); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update encoding settings")
		return
	}

	writeJSON(w, http.StatusOK, s.encoding.Get())
}

// JIT settings handlers.

type updateJITSettingsRequest struct {
	Enabled        *bool    `json:"enabled"`
	SegmentSeconds *float64 `json:"segmentSeconds"`
}

func (s *Server) handleJITSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetJITSettings(w, r)
	case http.MethodPatch, http.MethodPut:
		s.handleUpdateJITSettings(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetJITSettings(w http.ResponseWriter, _ *http.Request) {
	if s.jitSettingsCtrl == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "jit settings not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.jitSettingsCtrl.Get())
}

func (s *Server) handleUpdateJITSettings(w http.ResponseWriter, r *http.Request) {
	if s.jitSettingsCtrl == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "jit settings not configured")
		return
	}

	var body updateJITSettingsRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}

	// Merge with current values for partial updates.
	settings := s.jitSettingsCtrl.Get()
	if body.Enabled != nil {
		settings.Enabled = *body.Enabled
	}
	if body.SegmentSeconds != nil {
		settings.SegmentSeconds = *body.SegmentSeconds
	}

	if settings.SegmentSeconds < 2 || settings.SegmentSeconds > 10 {
		writeError(w, http.StatusBadRequest, "invalid_request", "segmentSeconds must be 2-10")
		return
	}

	if err := s.jitSettingsCtrl.Update(settings); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update jit settings")
		return
	}

	writeJSON(w, http.StatusOK, s.jitSettingsCtrl.Get())
}

// JIT health handler.

func (s *Server) handleJITHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.streamer == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "streaming is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.streamer.Health())
}
