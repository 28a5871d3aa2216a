package orchestrator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AaronLay10/ShowSync/internal/mqtt"
)

var (
	ErrUnknownVerb = errors.New("unknown control verb")
	ErrBadPayload  = errors.New("malformed payload")
)

// Verb is a transport command carried on the control topic.
type Verb string

const (
	VerbQuit       Verb = "quit"
	VerbPlay       Verb = "play"
	VerbStop       Verb = "stop"
	VerbNext       Verb = "next"
	VerbPrev       Verb = "prev"
	VerbShutdown   Verb = "shutdown"
	VerbPlaySingle Verb = "play_single"
)

const playSinglePrefix = "play_single_"

// Command is a decoded control payload. Index is only meaningful for
// play_single.
type Command struct {
	Verb  Verb
	Index int
}

func (c Command) String() string {
	if c.Verb == VerbPlaySingle {
		return playSinglePrefix + strconv.Itoa(c.Index)
	}
	return string(c.Verb)
}

// Transport reserves playback verbs for the leader; followers only
// act on these locally.
func (c Command) Transport() bool {
	switch c.Verb {
	case VerbPlay, VerbNext, VerbPrev, VerbPlaySingle:
		return true
	}
	return false
}

// ParseCommand decodes a control payload.
func ParseCommand(payload string) (Command, error) {
	p := strings.TrimSpace(payload)
	switch Verb(p) {
	case VerbQuit, VerbPlay, VerbStop, VerbNext, VerbPrev, VerbShutdown:
		return Command{Verb: Verb(p)}, nil
	}
	if rest, ok := strings.CutPrefix(p, playSinglePrefix); ok {
		idx, err := strconv.Atoi(rest)
		if err != nil {
			return Command{}, fmt.Errorf("%w: play_single index %q", ErrBadPayload, rest)
		}
		return Command{Verb: VerbPlaySingle, Index: idx}, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownVerb, p)
}

// ParseSceneIndex decodes a scene payload. none is true for an empty
// payload, which means "no scene".
func ParseSceneIndex(payload []byte) (idx int, none bool, err error) {
	p := strings.TrimSpace(string(payload))
	if p == "" {
		return -1, true, nil
	}
	idx, err = strconv.Atoi(p)
	if err != nil {
		return -1, false, fmt.Errorf("%w: scene index %q", ErrBadPayload, p)
	}
	return idx, false, nil
}

// Publisher is the publishing half of the bus.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// SendControl publishes cmd on the control topic.
func SendControl(bus Publisher, topics mqtt.Topics, cmd Command) error {
	if err := bus.Publish(topics.Control(), []byte(cmd.String()), false); err != nil {
		return fmt.Errorf("sending %s: %w", cmd, err)
	}
	return nil
}
