package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned (wrapped) when a configuration document fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Previous-scene policies applied when "prev" is received at scene index 0.
const (
	PrevRestart = "restart"
	PrevIdle    = "idle"
)

// Config is the show document shared by every process of the installation.
type Config struct {
	Process     ProcessConfig     `yaml:"process"`
	Logging     LoggingConfig     `yaml:"logging"`
	HTTP        HTTPConfig        `yaml:"http"`
	VideoPlayer VideoPlayerConfig `yaml:"videoplayer"`
	I2C         I2CConfig         `yaml:"i2c"`
	WLED        WLEDConfig        `yaml:"wled"`
	Novastar    NovastarConfig    `yaml:"novastar"`
	Idle        Idle              `yaml:"idle"`
	Scenes      []Scene           `yaml:"scenes"`
}

// ProcessConfig tunes the main loop and the scene state machine.
type ProcessConfig struct {
	// Leader is the module that owns transport verbs and publishes the
	// authoritative scene index. Every other module follows it.
	Leader           string        `yaml:"leader"`
	Tick             time.Duration `yaml:"tick"`
	SinkTimeout      time.Duration `yaml:"sink_timeout"`
	QueueSize        int           `yaml:"queue_size"`
	PrevAtStart      string        `yaml:"prev_at_start"`
	ShutdownSentinel string        `yaml:"shutdown_sentinel"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HTTPConfig controls the optional status/metrics listener.
type HTTPConfig struct {
	Addr    string `yaml:"addr"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// VideoPlayerConfig configures the VLC remote-control backend.
type VideoPlayerConfig struct {
	MediaPath     string `yaml:"media_path"`
	RCSocket      string `yaml:"rc_socket"`
	IdleAnimation string `yaml:"idle_animation"`
	// RelayOutputsTo forwards i2c/arduino cue values to another module's
	// direct-set topics when the video host has no hardware of its own.
	RelayOutputsTo string `yaml:"relay_outputs_to"`
}

// PinRef addresses one pin of an I2C port expander.
type PinRef struct {
	Address uint16 `yaml:"address"`
	Pin     int    `yaml:"pin"`
}

// I2CConfig maps named inputs and outputs onto MCP23017 pins.
type I2CConfig struct {
	Bus            string            `yaml:"bus"`
	Input          map[string]PinRef `yaml:"input"`
	Output         map[string]PinRef `yaml:"output"`
	ArduinoDevices map[string]PinRef `yaml:"arduino_devices"`
}

// WLEDConfig describes the LED controllers and the macros cues refer to.
type WLEDConfig struct {
	Settings struct {
		Transition int `yaml:"transition"`
	} `yaml:"settings"`
	Devices []string           `yaml:"devices"`
	Colors  map[string][][]int `yaml:"colors"`
	Macros  map[string]Macro   `yaml:"macros"`
}

// Macro is a named LED segment state.
type Macro struct {
	Brightness int    `yaml:"brightness"`
	StripOn    bool   `yaml:"strip_on"`
	Color      string `yaml:"color"`
	EffectID   int    `yaml:"effect_id"`
	Speed      int    `yaml:"speed"`
	Intensity  int    `yaml:"intensity"`
}

// NovastarConfig addresses the video-wall controller.
type NovastarConfig struct {
	ControllerIP    string        `yaml:"controller_ip"`
	ControllerPort  int           `yaml:"controller_port"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
}

// Outputs holds the per-domain output maps of a cue or of the idle snapshot.
type Outputs struct {
	I2C      map[string]bool `yaml:"i2c_outputs,omitempty" json:"i2c_outputs,omitempty"`
	Arduino  map[string]int  `yaml:"arduino_outputs,omitempty" json:"arduino_outputs,omitempty"`
	WLED     map[int]string  `yaml:"wled_outputs,omitempty" json:"wled_outputs,omitempty"`
	Novastar *int            `yaml:"novastar_output,omitempty" json:"novastar_output,omitempty"`
}

// Merge returns the union of o and next where values in next win.
// Neither input is modified.
func (o Outputs) Merge(next Outputs) Outputs {
	out := Outputs{Novastar: o.Novastar}
	if len(o.I2C)+len(next.I2C) > 0 {
		out.I2C = make(map[string]bool, len(o.I2C)+len(next.I2C))
		for k, v := range o.I2C {
			out.I2C[k] = v
		}
		for k, v := range next.I2C {
			out.I2C[k] = v
		}
	}
	if len(o.Arduino)+len(next.Arduino) > 0 {
		out.Arduino = make(map[string]int, len(o.Arduino)+len(next.Arduino))
		for k, v := range o.Arduino {
			out.Arduino[k] = v
		}
		for k, v := range next.Arduino {
			out.Arduino[k] = v
		}
	}
	if len(o.WLED)+len(next.WLED) > 0 {
		out.WLED = make(map[int]string, len(o.WLED)+len(next.WLED))
		for k, v := range o.WLED {
			out.WLED[k] = v
		}
		for k, v := range next.WLED {
			out.WLED[k] = v
		}
	}
	if next.Novastar != nil {
		v := *next.Novastar
		out.Novastar = &v
	}
	return out
}

// IsEmpty reports whether no domain map carries a value.
func (o Outputs) IsEmpty() bool {
	return len(o.I2C) == 0 && len(o.Arduino) == 0 && len(o.WLED) == 0 && o.Novastar == nil
}

// TimedOutput is a cue: outputs that become active StartTime seconds into a scene.
type TimedOutput struct {
	StartTime float64 `yaml:"start_time"`
	Outputs   `yaml:",inline"`
}

// Start returns the cue offset from scene start.
func (t TimedOutput) Start() time.Duration {
	return seconds(t.StartTime)
}

// Scene is one segment of the show.
type Scene struct {
	Name         string        `yaml:"name"`
	File         string        `yaml:"file"`
	Image        string        `yaml:"image"`
	ImageActive  string        `yaml:"image_active"`
	Duration     float64       `yaml:"duration"`
	TimedOutputs []TimedOutput `yaml:"timed_outputs"`
}

// Length returns the scene duration.
func (s Scene) Length() time.Duration {
	return seconds(s.Duration)
}

// Idle is the static snapshot shown when no scene plays.
type Idle struct {
	File    string `yaml:"file"`
	Outputs `yaml:",inline"`
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Load reads the show document, applies defaults and validates it.
// Any violation is fatal for the caller: processes must not start their
// main loop on an invalid document.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a show document.
func Parse(b []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{
		Process: ProcessConfig{
			Leader:      "videoplayer",
			Tick:        10 * time.Millisecond,
			SinkTimeout: 500 * time.Millisecond,
			QueueSize:   64,
			PrevAtStart: PrevRestart,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Novastar: NovastarConfig{
			ControllerPort:  5200,
			DialTimeout:     3 * time.Second,
			ResponseTimeout: time.Second,
		},
	}
	cfg.WLED.Settings.Transition = 20
	return cfg
}

// Validate checks the document and reports every violation at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Process.Leader == "" {
		errs = append(errs, "process.leader is required")
	}
	if c.Process.Tick <= 0 {
		errs = append(errs, "process.tick must be positive")
	}
	if c.Process.SinkTimeout <= 0 {
		errs = append(errs, "process.sink_timeout must be positive")
	}
	if c.Process.QueueSize < 1 {
		errs = append(errs, "process.queue_size must be at least 1")
	}
	switch c.Process.PrevAtStart {
	case PrevRestart, PrevIdle:
	default:
		errs = append(errs, fmt.Sprintf("process.prev_at_start must be %q or %q", PrevRestart, PrevIdle))
	}

	for name := range c.I2C.Input {
		if !isControlInput(name) {
			errs = append(errs, fmt.Sprintf("i2c.input.%s is not a control input", name))
		}
	}
	errs = append(errs, c.validatePins()...)
	errs = append(errs, c.validateWLED()...)

	errs = append(errs, c.validateOutputs("idle", c.Idle.Outputs)...)
	for i, scene := range c.Scenes {
		prefix := fmt.Sprintf("scenes[%d]", i)
		if scene.Name == "" {
			errs = append(errs, prefix+".name is required")
		}
		if scene.Duration <= 0 {
			errs = append(errs, prefix+".duration must be positive")
		}
		last := 0.0
		for j, cue := range scene.TimedOutputs {
			cuePrefix := fmt.Sprintf("%s.timed_outputs[%d]", prefix, j)
			if cue.StartTime < 0 {
				errs = append(errs, cuePrefix+".start_time must not be negative")
			}
			// The scheduler relies on this ordering.
			if j > 0 && cue.StartTime < last {
				errs = append(errs, cuePrefix+".start_time is before the previous cue")
			}
			last = cue.StartTime
			errs = append(errs, c.validateOutputs(cuePrefix, cue.Outputs)...)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validatePins() []string {
	var errs []string
	check := func(section string, pins map[string]PinRef) {
		for name, p := range pins {
			if p.Pin < 0 || p.Pin > 15 {
				errs = append(errs, fmt.Sprintf("i2c.%s.%s.pin must be between 0 and 15", section, name))
			}
			if p.Address > 0x7f {
				errs = append(errs, fmt.Sprintf("i2c.%s.%s.address is not a 7-bit address", section, name))
			}
		}
	}
	check("input", c.I2C.Input)
	check("output", c.I2C.Output)
	check("arduino_devices", c.I2C.ArduinoDevices)
	return errs
}

func (c *Config) validateWLED() []string {
	var errs []string
	for name, col := range c.WLED.Colors {
		if len(col) != 3 {
			errs = append(errs, fmt.Sprintf("wled.colors.%s must hold three colors", name))
			continue
		}
		for _, rgb := range col {
			if !validRGB(rgb) {
				errs = append(errs, fmt.Sprintf("wled.colors.%s entries must be RGB triples in 0..255", name))
				break
			}
		}
	}
	for name, m := range c.WLED.Macros {
		if _, ok := c.WLED.Colors[m.Color]; !ok {
			errs = append(errs, fmt.Sprintf("wled.macros.%s references unknown color %q", name, m.Color))
		}
	}
	return errs
}

func (c *Config) validateOutputs(prefix string, o Outputs) []string {
	var errs []string
	for name, v := range o.Arduino {
		if v < 0 || v > 255 {
			errs = append(errs, fmt.Sprintf("%s.arduino_outputs.%s must be between 0 and 255", prefix, name))
		}
	}
	for strip, macro := range o.WLED {
		if strip < 0 || strip > 32 {
			errs = append(errs, fmt.Sprintf("%s.wled_outputs strip %d must be between 0 and 32", prefix, strip))
		}
		if _, ok := c.WLED.Macros[macro]; !ok {
			errs = append(errs, fmt.Sprintf("%s.wled_outputs references unknown macro %q", prefix, macro))
		}
	}
	if o.Novastar != nil && (*o.Novastar < 0 || *o.Novastar > 255) {
		errs = append(errs, prefix+".novastar_output must be between 0 and 255")
	}
	return errs
}

func validRGB(rgb []int) bool {
	if len(rgb) != 3 {
		return false
	}
	for _, v := range rgb {
		if v < 0 || v > 255 {
			return false
		}
	}
	return true
}

func isControlInput(name string) bool {
	switch name {
	case "play", "stop", "next", "prev", "shutdown":
		return true
	}
	return false
}

// Check loads and validates the document at path and reports the outcome
// in a form suitable for an operator page.
func Check(path string) (bool, string) {
	if _, err := Load(path); err != nil {
		return false, err.Error()
	}
	return true, "config is valid"
}
