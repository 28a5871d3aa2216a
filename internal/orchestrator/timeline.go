package orchestrator

import (
	"time"

	"github.com/AaronLay10/ShowSync/internal/config"
)

// CueChange is the result of a scheduler check.
type CueChange struct {
	Index   int
	Changed bool
}

// NoCue is returned when tracking is disabled.
var NoCue = CueChange{Index: -1}

// Scheduler derives the active timed-output cue from the time elapsed
// since the current scene was activated.
type Scheduler struct {
	scenes []config.Scene
	state  *RuntimeState
	now    func() time.Time
}

func NewScheduler(scenes []config.Scene, state *RuntimeState, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{scenes: scenes, state: state, now: now}
}

// CheckForOutputChange reports whether the active cue changed.
//
// disable stops tracking until the next start and returns NoCue. start
// restarts the scene clock, forgets the applied cue and recomputes, so
// a cue at start_time 0 reports as changed immediately. A plain tick
// reports a change only when the active index differs from the last one
// reported, so every index is reported at most once per activation.
func (s *Scheduler) CheckForOutputChange(start, disable bool) CueChange {
	st := s.state
	if disable {
		st.Tracking = false
		st.OutputIndex = -1
		return NoCue
	}
	if start {
		st.SceneStart = s.now()
		st.OutputIndex = -1
		st.Tracking = true
	}
	if !st.Tracking || st.SceneIndex < 0 || st.SceneIndex >= len(s.scenes) {
		return CueChange{Index: st.OutputIndex}
	}

	idx := ActiveCue(s.scenes[st.SceneIndex].TimedOutputs, s.Elapsed())
	if idx == st.OutputIndex {
		return CueChange{Index: idx}
	}
	st.OutputIndex = idx
	return CueChange{Index: idx, Changed: true}
}

// Elapsed is the time since the current activation, zero when not tracking.
func (s *Scheduler) Elapsed() time.Duration {
	if !s.state.Tracking || s.state.SceneStart.IsZero() {
		return 0
	}
	return s.now().Sub(s.state.SceneStart)
}

// ActiveCue returns the last index whose start time is at or before
// elapsed, or -1. cues must be sorted by start time; at an exact
// boundary the later cue wins.
func ActiveCue(cues []config.TimedOutput, elapsed time.Duration) int {
	idx := -1
	for i, cue := range cues {
		if cue.Start() > elapsed {
			break
		}
		idx = i
	}
	return idx
}

// Cue is what an output sink applies: the merged outputs of a scene's
// timed outputs up to and including Index.
type Cue struct {
	SceneIndex int
	SceneName  string
	Index      int
	Start      time.Duration
	Outputs    config.Outputs
}

// MergeCue folds timed_outputs[0..index] of scene with last-write-wins.
func MergeCue(sceneIndex int, scene config.Scene, index int) Cue {
	cue := Cue{SceneIndex: sceneIndex, SceneName: scene.Name, Index: index}
	if index < 0 || index >= len(scene.TimedOutputs) {
		return cue
	}
	for _, t := range scene.TimedOutputs[:index+1] {
		cue.Outputs = cue.Outputs.Merge(t.Outputs)
	}
	cue.Start = scene.TimedOutputs[index].Start()
	return cue
}
