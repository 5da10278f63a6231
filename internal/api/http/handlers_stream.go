package apihttp

import (
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"jitstream/internal/domain"
)

// handleStream routes the HLS URL space:
//
//	/api/stream/{videoID}/master.m3u8
//	/api/stream/{videoID}/{label}/playlist.m3u8
//	/api/stream/{videoID}/{label}/init.mp4
//	/api/stream/{videoID}/{label}/{segment}.ts|.m4s
//	/api/stream/{videoID}/audio/track_{n}_{codec}/...
//
// Audio renditions appear in the master playlist under the audio/track_N_C
// path form; internally they resolve to the audio_N_C variant label.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.streamer == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "streaming is not configured")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/stream/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 2 && parts[1] == "master.m3u8":
		s.serveMasterPlaylist(w, r, domain.VideoID(parts[0]))
		return
	case len(parts) == 3:
		s.serveVariantFile(w, r, domain.VideoID(parts[0]), parts[1], parts[2])
		return
	case len(parts) == 4 && parts[1] == "audio":
		label, ok := audioLabelFromPath(parts[2])
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "unknown audio track")
			return
		}
		s.serveVariantFile(w, r, domain.VideoID(parts[0]), label, parts[3])
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "not found")
}

// audioLabelFromPath maps the URL form track_<n>_<codec> onto the canonical
// audio_<n>_<codec> variant label.
func audioLabelFromPath(segment string) (string, bool) {
	rest, found := strings.CutPrefix(segment, "track_")
	if !found {
		return "", false
	}
	label := "audio_" + rest
	if !domain.IsAudioLabel(label) {
		return "", false
	}
	return label, true
}

func (s *Server) serveMasterPlaylist(w http.ResponseWriter, r *http.Request, videoID domain.VideoID) {
	body, err := s.streamer.MasterPlaylist(r.Context(), videoID)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", segmentContentType(".m3u8"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) serveVariantFile(w http.ResponseWriter, r *http.Request, videoID domain.VideoID, label, file string) {
	switch {
	case file == "playlist.m3u8":
		p, err := s.streamer.EnsureVariantPlaylist(r.Context(), videoID, label)
		if err != nil {
			writeStreamError(w, err)
			return
		}
		s.serveFile(w, r, p, ".m3u8")
	case file == "init.mp4":
		p, err := s.streamer.EnsureInitSegment(r.Context(), videoID, label)
		if err != nil {
			writeStreamError(w, err)
			return
		}
		s.serveFile(w, r, p, ".mp4")
	default:
		s.serveSegment(w, r, videoID, label, file)
	}
}

func (s *Server) serveSegment(w http.ResponseWriter, r *http.Request, videoID domain.VideoID, label, file string) {
	ext := path.Ext(file)
	if ext != ".ts" && ext != ".m4s" {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	segment, err := strconv.Atoi(strings.TrimSuffix(file, ext))
	if err != nil || segment < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid segment index")
		return
	}

	query := r.URL.Query()
	runtimeTicks, hasRuntime, err := parseTicksQuery(query.Get("runtimeTicks"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid runtimeTicks")
		return
	}
	lengthTicks, hasLength, err := parseTicksQuery(query.Get("actualSegmentLengthTicks"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid actualSegmentLengthTicks")
		return
	}

	p, err := s.streamer.EnsureSegment(r.Context(), videoID, label, segment)
	if err != nil && errors.Is(err, domain.ErrNotFound) && hasRuntime && hasLength {
		// The client may hold a playlist from an earlier grid plan. The
		// tick window in the URL still names the exact media range, so
		// honor it with a one-shot transcode.
		p, err = s.streamer.EnsureExplicitSegment(r.Context(), videoID, label, segment, runtimeTicks, lengthTicks)
	}
	if err != nil {
		writeStreamError(w, err)
		return
	}
	s.serveFile(w, r, p, ext)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, filePath, ext string) {
	w.Header().Set("Content-Type", segmentContentType(ext))
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, filePath)
}
