// Package dashboard follows the whole installation bus for the operator
// dashboard process.
package dashboard

import (
	"sort"
	"time"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/events"
	"github.com/AaronLay10/ShowSync/internal/mqtt"
	"github.com/AaronLay10/ShowSync/internal/orchestrator"
)

// Subscriber is the subscribing half of the bus.
type Subscriber interface {
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

// SceneStatus is what a module is playing, derived from its most recent
// scene and idle announcements.
type SceneStatus struct {
	Module  string    `json:"module"`
	Playing bool      `json:"playing"`
	Index   int       `json:"index"`
	Name    string    `json:"name,omitempty"`
	Since   time.Time `json:"since,omitempty"`
	// Elapsed is wall time since Since, zero while idle.
	Elapsed  float64 `json:"elapsed_seconds,omitempty"`
	Duration float64 `json:"duration_seconds,omitempty"`
	Profile  string  `json:"profile,omitempty"`
}

// Tracker records every message under the base topic and feeds status
// messages to the peer monitor.
type Tracker struct {
	topics   mqtt.Topics
	leader   string
	scenes   []config.Scene
	messages *events.TopicLog
	peers    *mqtt.Monitor
	now      func() time.Time
}

func NewTracker(topics mqtt.Topics, cfg *config.Config, messages *events.TopicLog, peers *mqtt.Monitor) *Tracker {
	return &Tracker{
		topics:   topics,
		leader:   cfg.Process.Leader,
		scenes:   cfg.Scenes,
		messages: messages,
		peers:    peers,
		now:      time.Now,
	}
}

// Subscribe listens on everything below the base topic.
func (t *Tracker) Subscribe(bus Subscriber) error {
	return bus.Subscribe(t.topics.All(), t.Handle)
}

// Handle is the bus message handler.
func (t *Tracker) Handle(topic string, payload []byte) {
	t.messages.Record(topic, payload, t.now())
	if topic == t.topics.Status() {
		t.peers.HandleStatus(payload)
	}
}

func (t *Tracker) Messages() *events.TopicLog { return t.messages }

func (t *Tracker) Peers() *mqtt.Monitor { return t.peers }

func (t *Tracker) Leader() string { return t.leader }

// Scenes returns the configured scene list.
func (t *Tracker) Scenes() []config.Scene { return t.scenes }

// Current is the leader's scene status, which is the show's.
func (t *Tracker) Current() SceneStatus {
	return t.Status(t.leader)
}

// Status compares the newest <module>/scene and <module>/idle messages;
// whichever arrived last wins.
func (t *Tracker) Status(module string) SceneStatus {
	st := SceneStatus{Module: module, Index: -1}

	scene, hasScene := t.messages.Latest(t.topics.Scene(module))
	idle, hasIdle := t.messages.Latest(t.topics.Idle(module))
	if !hasScene || (hasIdle && !scene.Received.After(idle.Received)) {
		return st
	}

	idx, none, err := orchestrator.ParseSceneIndex([]byte(scene.Payload))
	if err != nil || none || idx < 0 || idx >= len(t.scenes) {
		return st
	}
	st.Playing = true
	st.Index = idx
	st.Name = t.scenes[idx].Name
	st.Duration = t.scenes[idx].Duration
	st.Since = scene.Received
	st.Elapsed = t.now().Sub(scene.Received).Seconds()
	if p, ok := t.messages.Latest(t.topics.Profile(module)); ok && !p.Received.Before(scene.Received) {
		st.Profile = p.Payload
	}
	return st
}

// Modules returns the status of every module that has announced a scene
// or idle transition, ordered by name.
func (t *Tracker) Modules() []SceneStatus {
	seen := map[string]struct{}{}
	for _, topic := range t.messages.Topics() {
		levels, ok := t.topics.Split(topic)
		if !ok || len(levels) != 2 {
			continue
		}
		if levels[1] == "scene" || levels[1] == "idle" {
			seen[levels[0]] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for m := range seen {
		names = append(names, m)
	}
	sort.Strings(names)

	out := make([]SceneStatus, 0, len(names))
	for _, m := range names {
		out = append(out, t.Status(m))
	}
	return out
}
