// Package sinks assembles the output sinks each module runs.
package sinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/mqtt"
	"github.com/AaronLay10/ShowSync/internal/orchestrator"
	"github.com/AaronLay10/ShowSync/internal/sinks/arduino"
	"github.com/AaronLay10/ShowSync/internal/sinks/i2c"
	"github.com/AaronLay10/ShowSync/internal/sinks/novastar"
	"github.com/AaronLay10/ShowSync/internal/sinks/relay"
	"github.com/AaronLay10/ShowSync/internal/sinks/video"
	"github.com/AaronLay10/ShowSync/internal/sinks/wled"
)

// Module names with built-in sinks.
const (
	ModuleVideoPlayer = "videoplayer"
	ModuleI2C         = "i2c"
	ModuleWLED        = "wled"
	ModuleNovastar    = "novastar"
)

var ErrUnknownModule = errors.New("unknown module")

// Deps is what sinks are built from.
type Deps struct {
	Module string
	Config *config.Config
	Bus    relay.Bus
	Topics mqtt.Topics
	Log    *slog.Logger
}

// Modules lists the module names Build accepts.
func Modules() []string {
	return []string{ModuleVideoPlayer, ModuleI2C, ModuleWLED, ModuleNovastar}
}

// Build returns the sinks of d.Module and a function releasing whatever
// they opened beyond the sinks themselves.
func Build(ctx context.Context, d Deps) ([]orchestrator.OutputSink, func() error, error) {
	noop := func() error { return nil }
	cfg := d.Config

	switch d.Module {
	case ModuleVideoPlayer:
		out := []orchestrator.OutputSink{video.New(cfg.VideoPlayer, d.Log)}
		if target := cfg.VideoPlayer.RelayOutputsTo; target != "" {
			out = append(out, relay.New(d.Bus, d.Topics, target, d.Log))
		}
		return out, noop, nil

	case ModuleI2C:
		var (
			drv    i2c.Driver
			writer arduino.Writer
			closer = noop
		)
		if cfg.I2C.Bus == i2c.MemoryBus {
			d.Log.Warn("using in-memory i2c driver, no hardware will be touched")
			drv, writer = i2c.NewMemoryDriver(), arduino.NewMemoryWriter()
		} else {
			bus, err := i2c.OpenBus(cfg.I2C.Bus)
			if err != nil {
				return nil, nil, err
			}
			drv, writer, closer = i2c.NewMCP23017(bus), arduino.NewBusWriter(bus), bus.Close
		}
		expander, err := i2c.New(cfg.I2C, drv, d.Log)
		if err != nil {
			_ = closer()
			return nil, nil, fmt.Errorf("configuring i2c: %w", err)
		}
		return []orchestrator.OutputSink{expander, arduino.New(cfg.I2C.ArduinoDevices, writer, d.Log)}, closer, nil

	case ModuleWLED:
		return []orchestrator.OutputSink{wled.New(cfg.WLED, d.Bus, d.Topics, d.Module, d.Log)}, noop, nil

	case ModuleNovastar:
		n := novastar.New(cfg.Novastar, d.Log)
		ictx, cancel := context.WithTimeout(ctx, cfg.Novastar.DialTimeout+cfg.Novastar.ResponseTimeout+time.Second)
		defer cancel()
		if err := n.Init(ictx); err != nil {
			d.Log.Warn("novastar controller did not initialize", "error", err)
		}
		return []orchestrator.OutputSink{n}, noop, nil
	}
	return nil, nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownModule, d.Module, Modules())
}
