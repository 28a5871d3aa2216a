package i2c

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/orchestrator"
)

var ErrInvalidValue = errors.New("invalid output value")

const outputPrefix = "output/"

var (
	_ orchestrator.OutputSetter = (*Sink)(nil)
	_ orchestrator.InputPoller  = (*Sink)(nil)
	_ orchestrator.Closer       = (*Sink)(nil)
)

// Sink switches named expander outputs and reports button presses as
// control verbs. All outputs are driven off when the sink is created
// and whenever it goes idle or closes.
type Sink struct {
	drv Driver
	log *slog.Logger

	mu      sync.Mutex
	outputs map[string]Pin
	names   []string
	inputs  map[string]Pin
	// released holds the last level read per input; buttons are active-low.
	released map[string]bool
}

// New configures every pin in cfg on drv.
func New(cfg config.I2CConfig, drv Driver, log *slog.Logger) (*Sink, error) {
	s := &Sink{
		drv:      drv,
		log:      log.With("sink", "i2c"),
		outputs:  make(map[string]Pin, len(cfg.Output)),
		inputs:   make(map[string]Pin, len(cfg.Input)),
		released: make(map[string]bool, len(cfg.Input)),
	}
	for name, ref := range cfg.Output {
		p, err := drv.Output(ref)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		s.outputs[name] = p
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	for name, ref := range cfg.Input {
		p, err := drv.Input(ref)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		s.inputs[name] = p
		s.released[name] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.disableLocked(); err != nil {
		return nil, err
	}
	s.log.Debug("expander configured", "outputs", len(s.outputs), "inputs", len(s.inputs))
	return s, nil
}

func (s *Sink) Name() string { return "i2c" }

func (s *Sink) ApplyOutputs(_ context.Context, cue orchestrator.Cue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(cue.Outputs.I2C)
}

// ApplyIdle turns everything off, then applies the idle snapshot.
func (s *Sink) ApplyIdle(_ context.Context, idle config.Idle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.disableLocked(); err != nil {
		return err
	}
	return s.applyLocked(idle.I2C)
}

func (s *Sink) applyLocked(values map[string]bool) error {
	var errs []error
	for name, on := range values {
		p, ok := s.outputs[name]
		if !ok {
			s.log.Warn("cue wants to control unknown output", "output", name)
			continue
		}
		s.log.Debug("setting output", "output", name, "on", on)
		if err := p.Out(on); err != nil {
			errs = append(errs, fmt.Errorf("output %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) disableLocked() error {
	var errs []error
	for _, name := range s.names {
		if err := s.outputs[name].Out(false); err != nil {
			errs = append(errs, fmt.Errorf("output %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// SetOutput handles "output/<name>" with 1/0, true/false or on/off.
func (s *Sink) SetOutput(_ context.Context, name, value string) error {
	output, ok := strings.CutPrefix(name, outputPrefix)
	if !ok {
		return orchestrator.ErrUnknownOutput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.outputs[output]
	if !ok {
		return orchestrator.ErrUnknownOutput
	}
	on, err := ParseSwitch(value)
	if err != nil {
		return err
	}
	s.log.Info("direct output set", "output", output, "on", on)
	return p.Out(on)
}

// ParseSwitch decodes an on/off payload.
func ParseSwitch(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidValue, value)
}

// PollInputs reads every button and returns the verbs of those that went
// from released to pressed since the last poll. A read error leaves the
// input's state untouched.
func (s *Sink) PollInputs(context.Context) ([]orchestrator.Verb, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.inputs))
	for name := range s.inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		verbs []orchestrator.Verb
		errs  []error
	)
	for _, name := range names {
		level, err := s.inputs[name].Read()
		if err != nil {
			errs = append(errs, fmt.Errorf("reading input %s: %w", name, err))
			continue
		}
		if level == s.released[name] {
			continue
		}
		s.log.Debug("input changed", "input", name, "high", level)
		s.released[name] = level
		if !level {
			verbs = append(verbs, orchestrator.Verb(name))
		}
	}
	return verbs, errors.Join(errs...)
}

// Close drives every output off and releases the driver.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.disableLocked(), s.drv.Close())
}
