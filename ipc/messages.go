package ipc

// Frame type discriminants.
const (
	TypeTrack    = "track"
	TypeBox      = "box"
	TypeProgress = "progress"
	TypeResult   = "result"
)

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// TrackRequest is the single frame written to the tracker's stdin.
type TrackRequest struct {
	Type      string `msgpack:"type"`
	RunID     string `msgpack:"run_id"`
	VideoPath string `msgpack:"video_path"`
	// StartFrame and EndFrame are clip-relative and inclusive.
	StartFrame int        `msgpack:"start_frame"`
	EndFrame   int        `msgpack:"end_frame"`
	ObjectID   int        `msgpack:"object_id"`
	Box        [4]float64 `msgpack:"box"`
}

// BoxFrame is the tracked box of one object on one frame.
type BoxFrame struct {
	Type     string     `msgpack:"type"`
	ObjectID int        `msgpack:"object_id"`
	Frame    int        `msgpack:"frame"`
	Box      [4]float64 `msgpack:"box"`
}

// ProgressFrame reports tracking progress.
type ProgressFrame struct {
	Type  string `msgpack:"type"`
	Done  int    `msgpack:"done"`
	Total int    `msgpack:"total"`
}

// ResultFrame terminates the stream.
type ResultFrame struct {
	Type    string `msgpack:"type"`
	Status  string `msgpack:"status"`
	Message string `msgpack:"message,omitempty"`
}

// OK reports whether tracking succeeded.
func (r *ResultFrame) OK() bool { return r.Status == StatusOK }
