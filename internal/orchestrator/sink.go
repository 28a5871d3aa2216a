package orchestrator

import (
	"context"
	"errors"

	"github.com/AaronLay10/ShowSync/internal/config"
)

var (
	// ErrUnknownOutput is returned by an OutputSetter for names it does not own.
	ErrUnknownOutput = errors.New("unknown output")
	ErrSinkTimeout   = errors.New("sink call timed out")
	ErrSinkPanic     = errors.New("sink panicked")
)

// OutputSink turns cues into device commands for one hardware domain.
//
// Calls are made from the main loop under a deadline. A call that misses
// its deadline is abandoned and may still be running when the next call
// arrives, so implementations must be safe for concurrent use.
type OutputSink interface {
	Name() string
	ApplyOutputs(ctx context.Context, cue Cue) error
	ApplyIdle(ctx context.Context, idle config.Idle) error
}

// SceneStarter is implemented by sinks that act on scene activation
// itself, such as loading the scene's media.
type SceneStarter interface {
	StartScene(ctx context.Context, index int, scene config.Scene) error
}

// OutputSetter handles direct single-output commands. name is the topic
// path below the module, e.g. "output/fan" or "ceiling/0/bri".
type OutputSetter interface {
	SetOutput(ctx context.Context, name, value string) error
}

// InputPoller is implemented by sinks with physical inputs. PollInputs is
// called every tick and returns the control verbs triggered since the
// previous call.
type InputPoller interface {
	PollInputs(ctx context.Context) ([]Verb, error)
}

// Closer releases sink resources when the main loop exits.
type Closer interface {
	Close() error
}
