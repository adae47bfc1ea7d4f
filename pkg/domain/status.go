package domain

import "encoding"

// BackendStatus is the rendering backend's view of a capture.
type BackendStatus string

const (
	BackendUnknown    BackendStatus = "UNKNOWN"
	BackendQueued     BackendStatus = "QUEUED"
	BackendInProgress BackendStatus = "IN_PROGRESS"
	BackendDone       BackendStatus = "DONE"
)

// CaptureState is the orchestrator's view of a capture, resolved from Redis.
type CaptureState string

const (
	StatePending CaptureState = "PENDING"
	StateOngoing CaptureState = "ONGOING"
	StateDone    CaptureState = "DONE"
	StateError   CaptureState = "ERROR"
	StateUnknown CaptureState = "UNKNOWN"
)

var (
	_ encoding.TextMarshaler = BackendStatus("")
	_ encoding.TextMarshaler = CaptureState("")
)

func (s BackendStatus) MarshalText() ([]byte, error) { return []byte(string(s)), nil }
func (s CaptureState) MarshalText() ([]byte, error)  { return []byte(string(s)), nil }

type CaptureStatus struct {
	UUID      string       `json:"uuid"`
	State     CaptureState `json:"state"`
	Directory string       `json:"directory,omitempty"`
	Error     string       `json:"error,omitempty"`
}

type QueueStats struct {
	Pending int64            `json:"pending"`
	Ongoing int64            `json:"ongoing"`
	Buckets map[string]int64 `json:"buckets"`
}
