package domain

import "errors"

// Error kinds surfaced by the segment supervisor. The HTTP layer maps each
// kind to a status code; see api/http.
var (
	// ErrDisabled means JIT transcoding is switched off by configuration.
	ErrDisabled = errors.New("JIT transcoding is disabled")

	// ErrNotFound means the video, variant label or segment index does not
	// exist in the grid.
	ErrNotFound = errors.New("not found")

	// ErrBadRequest means the request itself was malformed (e.g. an
	// unparseable segment index).
	ErrBadRequest = errors.New("bad request")

	// ErrProbe means media probing failed before any session was created.
	ErrProbe = errors.New("media probe failed")

	// ErrSpawn means the transcoder child process could not be launched.
	ErrSpawn = errors.New("transcoder spawn failed")

	// ErrTranscodeFailed means the child exited non-zero while a request
	// was waiting on one of its segments.
	ErrTranscodeFailed = errors.New("transcode failed")

	// ErrTimeout means a segment did not stabilize within the bounded
	// wait. Clients are expected to retry.
	ErrTimeout = errors.New("segment wait timed out")

	// ErrIO means a playlist or segment file could not be read or written.
	ErrIO = errors.New("io error")
)
