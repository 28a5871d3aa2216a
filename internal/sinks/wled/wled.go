// Package wled drives WLED LED controllers through their MQTT JSON API.
package wled

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/mqtt"
	"github.com/AaronLay10/ShowSync/internal/orchestrator"
)

var ErrUnknownMacro = errors.New("unknown wled macro")

var _ orchestrator.OutputSetter = (*Sink)(nil)

// State is the body of a wled/<device>/api message.
type State struct {
	On         bool      `json:"on"`
	Transition int       `json:"transition"`
	Seg        []Segment `json:"seg"`
}

// Segment is one strip of a controller. Fields a direct set does not
// name are omitted so the controller keeps its value.
type Segment struct {
	ID         int     `json:"id"`
	On         *bool   `json:"on,omitempty"`
	Bri        *int    `json:"bri,omitempty"`
	Fx         *int    `json:"fx,omitempty"`
	Sx         *int    `json:"sx,omitempty"`
	Ix         *int    `json:"ix,omitempty"`
	Tt         *int    `json:"tt,omitempty"`
	Transition *int    `json:"transition,omitempty"`
	Col        [][]int `json:"col,omitempty"`
	Pal        *int    `json:"pal,omitempty"`

	// extra carries a single element set directly by name.
	extra map[string]interface{}
}

func (s Segment) MarshalJSON() ([]byte, error) {
	type plain Segment
	if len(s.extra) == 0 {
		return json.Marshal(plain(s))
	}
	b, err := json.Marshal(plain(s))
	if err != nil {
		return nil, err
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		m[k] = v
	}
	return json.Marshal(m)
}

// Sink publishes segment states for every configured device.
type Sink struct {
	bus    orchestrator.Publisher
	topics mqtt.Topics
	module string
	cfg    config.WLEDConfig
	log    *slog.Logger
}

func New(cfg config.WLEDConfig, bus orchestrator.Publisher, topics mqtt.Topics, module string, log *slog.Logger) *Sink {
	log = log.With("sink", "wled")
	log.Debug("registered wled devices", "devices", strings.Join(cfg.Devices, ", "))
	return &Sink{bus: bus, topics: topics, module: module, cfg: cfg, log: log}
}

func (s *Sink) Name() string { return "wled" }

func (s *Sink) ApplyOutputs(_ context.Context, cue orchestrator.Cue) error {
	return s.apply(cue.Outputs.WLED)
}

func (s *Sink) ApplyIdle(_ context.Context, idle config.Idle) error {
	return s.apply(idle.WLED)
}

// BuildState expands strip macros into a controller state. Strips are
// ordered by id.
func BuildState(cfg config.WLEDConfig, strips map[int]string) (State, error) {
	t := cfg.Settings.Transition
	st := State{On: true, Transition: t}

	ids := make([]int, 0, len(strips))
	for id := range strips {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		name := strips[id]
		m, ok := cfg.Macros[name]
		if !ok {
			return State{}, fmt.Errorf("%w: %q on strip %d", ErrUnknownMacro, name, id)
		}
		pal := 0
		st.Seg = append(st.Seg, Segment{
			ID:         id,
			On:         ptr(m.StripOn),
			Bri:        ptr(m.Brightness),
			Fx:         ptr(m.EffectID),
			Sx:         ptr(m.Speed),
			Ix:         ptr(m.Intensity),
			Tt:         ptr(t),
			Transition: ptr(t),
			Col:        cfg.Colors[m.Color],
			Pal:        &pal,
		})
	}
	return st, nil
}

func (s *Sink) apply(strips map[int]string) error {
	if len(strips) == 0 {
		return nil
	}
	st, err := BuildState(s.cfg, strips)
	if err != nil {
		return err
	}
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding wled state: %w", err)
	}

	var errs []error
	for _, device := range s.cfg.Devices {
		s.log.Debug("sending wled state", "device", device, "strips", len(st.Seg))
		if err := s.bus.Publish(mqtt.WLEDAPI(device), body, false); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", device, err))
			continue
		}
		for _, seg := range st.Seg {
			name := fmt.Sprintf("%s/%d/bri", device, seg.ID)
			if err := s.bus.Publish(s.topics.Notify(s.module, name), []byte(strconv.Itoa(*seg.Bri)), false); err != nil {
				s.log.Debug("notify failed", "name", name, "error", err)
			}
		}
	}
	return errors.Join(errs...)
}

// SetOutput handles "<device>/<strip>/<element>" by sending a single
// segment element. Numeric and boolean values are sent as JSON numbers
// and booleans.
func (s *Sink) SetOutput(_ context.Context, name, value string) error {
	parts := strings.Split(name, "/")
	if len(parts) != 3 || !s.hasDevice(parts[0]) {
		return orchestrator.ErrUnknownOutput
	}
	device, element := parts[0], parts[2]
	strip, err := strconv.Atoi(parts[1])
	if err != nil {
		return orchestrator.ErrUnknownOutput
	}

	st := State{
		On:         true,
		Transition: s.cfg.Settings.Transition,
		Seg:        []Segment{{ID: strip, extra: map[string]interface{}{element: decodeValue(value)}}},
	}
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding wled state: %w", err)
	}
	s.log.Info("direct wled set", "device", device, "strip", strip, "element", element, "value", value)
	return s.bus.Publish(mqtt.WLEDAPI(device), body, false)
}

func (s *Sink) hasDevice(name string) bool {
	for _, d := range s.cfg.Devices {
		if d == name {
			return true
		}
	}
	return false
}

func decodeValue(v string) interface{} {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

func ptr[T any](v T) *T { return &v }
