// Package i2c drives named outputs and control buttons on MCP23017 port
// expanders.
package i2c

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	pi2c "periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/mcp23xxx"
	"periph.io/x/host/v3"

	"github.com/AaronLay10/ShowSync/internal/config"
)

// MemoryBus selects the in-memory driver instead of real hardware.
const MemoryBus = "memory"

var ErrBadPin = errors.New("invalid expander pin")

// Pin is one expander pin. Levels are electrical: true is high.
type Pin interface {
	Out(high bool) error
	Read() (bool, error)
}

// Driver hands out configured pins.
type Driver interface {
	Output(ref config.PinRef) (Pin, error)
	// Input returns ref configured as an input with pull-up.
	Input(ref config.PinRef) (Pin, error)
	Close() error
}

// OpenBus initialises the host drivers and opens the named I2C bus; ""
// opens the first one available.
func OpenBus(name string) (pi2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initializing host drivers: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening i2c bus %q: %w", name, err)
	}
	return bus, nil
}

// MCP23017 is the periph-backed Driver. Devices are created lazily, one
// per address.
type MCP23017 struct {
	bus pi2c.Bus

	mu   sync.Mutex
	devs map[uint16]*mcp23xxx.Dev
}

func NewMCP23017(bus pi2c.Bus) *MCP23017 {
	return &MCP23017{bus: bus, devs: make(map[uint16]*mcp23xxx.Dev)}
}

func (m *MCP23017) pin(ref config.PinRef) (mcp23xxx.Pin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev, ok := m.devs[ref.Address]
	if !ok {
		d, err := mcp23xxx.NewI2C(m.bus, mcp23xxx.MCP23017, ref.Address)
		if err != nil {
			return nil, fmt.Errorf("mcp23017 at %#x: %w", ref.Address, err)
		}
		m.devs[ref.Address] = d
		dev = d
	}

	port, bit := ref.Pin/8, ref.Pin%8
	if ref.Pin < 0 || port >= len(dev.Pins) || bit >= len(dev.Pins[port]) {
		return nil, fmt.Errorf("%w: %#x/%d", ErrBadPin, ref.Address, ref.Pin)
	}
	return dev.Pins[port][bit], nil
}

func (m *MCP23017) Output(ref config.PinRef) (Pin, error) {
	p, err := m.pin(ref)
	if err != nil {
		return nil, err
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("configuring output %#x/%d: %w", ref.Address, ref.Pin, err)
	}
	return periphPin{p}, nil
}

func (m *MCP23017) Input(ref config.PinRef) (Pin, error) {
	p, err := m.pin(ref)
	if err != nil {
		return nil, err
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configuring input %#x/%d: %w", ref.Address, ref.Pin, err)
	}
	return periphPin{p}, nil
}

// Close is a no-op; the bus belongs to whoever opened it.
func (m *MCP23017) Close() error { return nil }

type periphPin struct {
	p gpio.PinIO
}

func (p periphPin) Out(high bool) error { return p.p.Out(gpio.Level(high)) }

func (p periphPin) Read() (bool, error) { return bool(p.p.Read()), nil }

// MemoryDriver keeps pin levels in memory. Inputs start high (released).
type MemoryDriver struct {
	mu     sync.Mutex
	levels map[config.PinRef]bool
	closed bool
	// Fail makes every pin operation return this error when set.
	Fail error
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{levels: make(map[config.PinRef]bool)}
}

func (d *MemoryDriver) Output(ref config.PinRef) (Pin, error) {
	if ref.Pin < 0 || ref.Pin > 15 {
		return nil, fmt.Errorf("%w: %#x/%d", ErrBadPin, ref.Address, ref.Pin)
	}
	d.Set(ref, false)
	return memoryPin{d: d, ref: ref}, nil
}

func (d *MemoryDriver) Input(ref config.PinRef) (Pin, error) {
	if ref.Pin < 0 || ref.Pin > 15 {
		return nil, fmt.Errorf("%w: %#x/%d", ErrBadPin, ref.Address, ref.Pin)
	}
	d.Set(ref, true)
	return memoryPin{d: d, ref: ref}, nil
}

func (d *MemoryDriver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Set drives ref to level, as a button or a test would.
func (d *MemoryDriver) Set(ref config.PinRef, high bool) {
	d.mu.Lock()
	d.levels[ref] = high
	d.mu.Unlock()
}

// Level returns the current level of ref.
func (d *MemoryDriver) Level(ref config.PinRef) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.levels[ref]
}

func (d *MemoryDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type memoryPin struct {
	d   *MemoryDriver
	ref config.PinRef
}

func (p memoryPin) Out(high bool) error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	if p.d.Fail != nil {
		return p.d.Fail
	}
	p.d.levels[p.ref] = high
	return nil
}

func (p memoryPin) Read() (bool, error) {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	if p.d.Fail != nil {
		return false, p.d.Fail
	}
	return p.d.levels[p.ref], nil
}
