package orchestrator

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/ShowSync/internal/events"
	"github.com/AaronLay10/ShowSync/internal/metrics"
	"github.com/AaronLay10/ShowSync/internal/mqtt"
)

// Route classifies an inbound message.
type Route int

const (
	RouteIgnore Route = iota
	RouteControl
	RouteLeaderScene
	RouteLeaderIdle
	RoutePlaySingle
	RouteDirectSet
)

func (r Route) String() string {
	switch r {
	case RouteControl:
		return "control"
	case RouteLeaderScene:
		return "leader_scene"
	case RouteLeaderIdle:
		return "leader_idle"
	case RoutePlaySingle:
		return "play_single"
	case RouteDirectSet:
		return "direct_set"
	}
	return "ignore"
}

// Inbound is a decoded bus message.
type Inbound struct {
	Route   Route
	Command Command
	// Scene is the observed scene index; NoScene marks an empty payload.
	Scene   int
	NoScene bool
	// Name and Value describe a direct output set.
	Name  string
	Value string
	Msg   events.Message
}

// leaves below a module that are state announcements, not direct sets
var reservedLeaves = map[string]struct{}{
	"scene":       {},
	"idle":        {},
	"profile":     {},
	"notify":      {},
	"error":       {},
	"play_single": {},
}

// Router is the bus-facing side of a process. Handle runs on the bus
// client's goroutine: it records the message and hands it to the main
// loop through a bounded queue without ever blocking. Decode runs on
// the main loop.
type Router struct {
	topics   mqtt.Topics
	module   string
	leader   string
	queue    chan events.Message
	messages *events.TopicLog
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
	dropped  atomic.Uint64
}

func NewRouter(pc ProcessContext) *Router {
	size := pc.Config.Process.QueueSize
	if size < 1 {
		size = 1
	}
	return &Router{
		topics:   pc.Topics,
		module:   pc.Module,
		leader:   pc.Config.Process.Leader,
		queue:    make(chan events.Message, size),
		messages: pc.Messages,
		metrics:  pc.Metrics,
		log:      pc.Log,
		now:      pc.Now,
	}
}

// Handle records and enqueues a message. A full queue drops it.
func (r *Router) Handle(topic string, payload []byte) {
	msg := events.Message{Topic: topic, Received: r.now(), Payload: string(payload)}
	if r.messages != nil {
		msg = r.messages.Record(topic, payload, msg.Received)
	}
	r.metrics.BusMessage()

	select {
	case r.queue <- msg:
	default:
		n := r.dropped.Add(1)
		r.metrics.BusDropped()
		r.log.Warn("event queue full, dropping message", "topic", topic, "dropped", n)
		events.Emit("warning", "bus.dropped", "", map[string]interface{}{
			"topic":   topic,
			"dropped": n,
		})
	}
}

// Queue is drained by the main loop.
func (r *Router) Queue() <-chan events.Message { return r.queue }

func (r *Router) Dropped() uint64 { return r.dropped.Load() }

// Subscriptions lists the topics a process of this module listens on.
func (r *Router) Subscriptions() []string {
	subs := []string{r.topics.Control(), r.topics.Module(r.module)}
	if r.module != r.leader {
		subs = append(subs, r.topics.Module(r.leader))
	}
	return subs
}

// Decode classifies msg. Messages this process has no interest in decode
// to RouteIgnore without error.
func (r *Router) Decode(msg events.Message) (Inbound, error) {
	in := Inbound{Msg: msg}

	if msg.Topic == r.topics.Control() {
		cmd, err := ParseCommand(msg.Payload)
		if err != nil {
			return in, err
		}
		in.Route, in.Command = RouteControl, cmd
		return in, nil
	}

	levels, ok := r.topics.Split(msg.Topic)
	if !ok || len(levels) < 2 {
		return in, nil
	}

	switch {
	case levels[0] == r.leader && r.module != r.leader && len(levels) == 2 && levels[1] == "scene":
		idx, none, err := ParseSceneIndex([]byte(msg.Payload))
		if err != nil {
			return in, err
		}
		in.Route, in.Scene, in.NoScene = RouteLeaderScene, idx, none
	case levels[0] == r.leader && r.module != r.leader && len(levels) == 2 && levels[1] == "idle":
		in.Route = RouteLeaderIdle
	case levels[0] == r.module && r.module == r.leader && len(levels) == 2 && levels[1] == "play_single":
		idx, none, err := ParseSceneIndex([]byte(msg.Payload))
		if err != nil {
			return in, err
		}
		if none {
			return in, nil
		}
		in.Route = RoutePlaySingle
		in.Command = Command{Verb: VerbPlaySingle, Index: idx}
	case levels[0] == r.module && len(levels) >= 3:
		if _, reserved := reservedLeaves[levels[1]]; reserved {
			return in, nil
		}
		for _, l := range levels[1:] {
			if l == "" {
				return in, fmt.Errorf("%w: empty level in %q", ErrBadPayload, msg.Topic)
			}
		}
		in.Route = RouteDirectSet
		in.Name = strings.Join(levels[1:], "/")
		in.Value = strings.TrimSpace(msg.Payload)
	}
	return in, nil
}
