// Package arduino writes integer output values to Arduino boards on the
// I2C bus.
package arduino

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	pi2c "periph.io/x/conn/v3/i2c"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/orchestrator"
)

var ErrInvalidValue = errors.New("arduino value must be an integer between 0 and 255")

const devicePrefix = "arduino/"

var _ orchestrator.OutputSetter = (*Sink)(nil)

// Writer delivers one value to the board behind ref.
type Writer interface {
	Write(ref config.PinRef, value int) error
}

// BusWriter sends a two byte frame, pin then value, to ref.Address.
type BusWriter struct {
	bus pi2c.Bus
}

func NewBusWriter(bus pi2c.Bus) *BusWriter {
	return &BusWriter{bus: bus}
}

func (w *BusWriter) Write(ref config.PinRef, value int) error {
	dev := &pi2c.Dev{Bus: w.bus, Addr: ref.Address}
	if err := dev.Tx([]byte{byte(ref.Pin), byte(value)}, nil); err != nil {
		return fmt.Errorf("writing to %#x: %w", ref.Address, err)
	}
	return nil
}

// MemoryWriter records the last value written per pin.
type MemoryWriter struct {
	mu     sync.Mutex
	values map[config.PinRef]int
	writes int
	Fail   error
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{values: make(map[config.PinRef]int)}
}

func (w *MemoryWriter) Write(ref config.PinRef, value int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Fail != nil {
		return w.Fail
	}
	w.values[ref] = value
	w.writes++
	return nil
}

// Value returns the last value written to ref.
func (w *MemoryWriter) Value(ref config.PinRef) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.values[ref]
	return v, ok
}

func (w *MemoryWriter) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

// Sink applies the arduino_outputs of cues and the idle snapshot.
type Sink struct {
	devices map[string]config.PinRef
	w       Writer
	log     *slog.Logger
	mu      sync.Mutex
}

func New(devices map[string]config.PinRef, w Writer, log *slog.Logger) *Sink {
	return &Sink{devices: devices, w: w, log: log.With("sink", "arduino")}
}

func (s *Sink) Name() string { return "arduino" }

func (s *Sink) ApplyOutputs(_ context.Context, cue orchestrator.Cue) error {
	return s.apply(cue.Outputs.Arduino)
}

func (s *Sink) ApplyIdle(_ context.Context, idle config.Idle) error {
	return s.apply(idle.Arduino)
}

func (s *Sink) apply(values map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for device, v := range values {
		ref, ok := s.devices[device]
		if !ok {
			s.log.Warn("cue wants to control unknown arduino device", "device", device)
			continue
		}
		s.log.Debug("setting arduino output", "device", device, "value", v)
		if err := s.w.Write(ref, v); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", device, err))
		}
	}
	return errors.Join(errs...)
}

// SetOutput handles "arduino/<device>" with a value in 0..255.
func (s *Sink) SetOutput(_ context.Context, name, value string) error {
	device, ok := strings.CutPrefix(name, devicePrefix)
	if !ok {
		return orchestrator.ErrUnknownOutput
	}
	ref, ok := s.devices[device]
	if !ok {
		return orchestrator.ErrUnknownOutput
	}
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || v < 0 || v > 255 {
		return fmt.Errorf("%w: %q", ErrInvalidValue, value)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("direct arduino set", "device", device, "value", v)
	return s.w.Write(ref, v)
}
