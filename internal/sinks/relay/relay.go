// Package relay forwards cue outputs to another module's direct-set
// topics, for hosts that drive no hardware themselves.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/mqtt"
	"github.com/AaronLay10/ShowSync/internal/orchestrator"
)

// Bus is the slice of the MQTT client the relay needs.
type Bus interface {
	orchestrator.Publisher
	IsConnected() bool
}

// Sink publishes i2c outputs as "1"/"0" on <base>/<target>/output/<name>
// and arduino values on <base>/<target>/arduino/<device>.
type Sink struct {
	bus    Bus
	topics mqtt.Topics
	target string
	log    *slog.Logger
}

func New(bus Bus, topics mqtt.Topics, target string, log *slog.Logger) *Sink {
	return &Sink{bus: bus, topics: topics, target: target, log: log.With("sink", "relay", "target", target)}
}

func (s *Sink) Name() string { return "relay" }

func (s *Sink) ApplyOutputs(_ context.Context, cue orchestrator.Cue) error {
	return s.forward(cue.Outputs)
}

func (s *Sink) ApplyIdle(_ context.Context, idle config.Idle) error {
	return s.forward(idle.Outputs)
}

func (s *Sink) forward(o config.Outputs) error {
	if len(o.I2C) == 0 && len(o.Arduino) == 0 {
		return nil
	}
	if s.bus == nil || !s.bus.IsConnected() {
		return fmt.Errorf("%w: relaying to %s", mqtt.ErrNotConnected, s.target)
	}

	var errs []error
	for _, name := range sortedKeys(o.I2C) {
		payload := "0"
		if o.I2C[name] {
			payload = "1"
		}
		if err := s.publish(s.topics.Output(s.target, name), payload); err != nil {
			errs = append(errs, err)
		}
	}
	for _, device := range sortedKeys(o.Arduino) {
		if err := s.publish(s.topics.Arduino(s.target, device), strconv.Itoa(o.Arduino[device])); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) publish(topic, payload string) error {
	s.log.Debug("relaying output", "topic", topic, "payload", payload)
	if err := s.bus.Publish(topic, []byte(payload), false); err != nil {
		return fmt.Errorf("%w: %s: %v", mqtt.ErrPublishFailed, topic, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
