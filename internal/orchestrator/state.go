package orchestrator

import "time"

// Mode is the scene-activation state of a process.
type Mode string

const (
	ModeIdle          Mode = "idle"
	ModePlaying       Mode = "playing"
	ModePlayingSingle Mode = "playing_single"
	ModeTerminated    Mode = "terminated"
)

// RuntimeState is the per-process scene state. Only the main loop
// goroutine reads or writes it.
type RuntimeState struct {
	// SceneIndex is -1 while idle.
	SceneIndex int
	SceneStart time.Time
	// OutputIndex is -1 until the first cue of an activation applies.
	OutputIndex  int
	Tracking     bool
	ReturnToIdle bool
	Terminate    bool
}

func newRuntimeState() RuntimeState {
	return RuntimeState{SceneIndex: -1, OutputIndex: -1}
}

// Mode derives the state-machine state.
func (s RuntimeState) Mode() Mode {
	switch {
	case s.Terminate:
		return ModeTerminated
	case s.SceneIndex < 0:
		return ModeIdle
	case s.ReturnToIdle:
		return ModePlayingSingle
	default:
		return ModePlaying
	}
}

// Snapshot is a copy of the process state published for readers outside
// the main loop.
type Snapshot struct {
	Module      string    `json:"module"`
	Leader      bool      `json:"leader"`
	Mode        Mode      `json:"mode"`
	SceneIndex  int       `json:"scene_index"`
	SceneName   string    `json:"scene_name,omitempty"`
	OutputIndex int       `json:"output_index"`
	Elapsed     float64   `json:"elapsed_seconds"`
	Duration    float64   `json:"duration_seconds,omitempty"`
	Sinks       []string  `json:"sinks"`
	QueueDepth  int       `json:"queue_depth"`
	Dropped     uint64    `json:"dropped_messages"`
	UpdatedAt   time.Time `json:"updated_at"`
}
