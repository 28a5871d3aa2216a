package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/events"
	"github.com/AaronLay10/ShowSync/internal/logging"
	"github.com/AaronLay10/ShowSync/internal/mqtt"
)

var epoch = time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type busMessage struct {
	Topic   string
	Payload string
}

type fakeBus struct {
	mu        sync.Mutex
	published []busMessage
	subs      map[string]mqtt.MessageHandler
	err       error
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBus) Publish(topic string, payload []byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, busMessage{Topic: topic, Payload: string(payload)})
	return nil
}

func (b *fakeBus) Subscribe(topic string, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = handler
	return nil
}

// On returns the payloads published on topic, in order.
func (b *fakeBus) On(topic string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

func (b *fakeBus) Reset() {
	b.mu.Lock()
	b.published = nil
	b.mu.Unlock()
}

// recordingSink remembers every call made to it.
type recordingSink struct {
	name string

	mu      sync.Mutex
	cues    []Cue
	idles   int
	started []int
	err     error
	panics  bool
	block   chan struct{}
}

func newRecordingSink(name string) *recordingSink {
	return &recordingSink{name: name}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) ApplyOutputs(ctx context.Context, cue Cue) error {
	s.mu.Lock()
	s.cues = append(s.cues, cue)
	err, panics, block := s.err, s.panics, s.block
	s.mu.Unlock()

	if panics {
		panic("relay board on fire")
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *recordingSink) ApplyIdle(context.Context, config.Idle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idles++
	return nil
}

func (s *recordingSink) Cues() []Cue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Cue(nil), s.cues...)
}

func (s *recordingSink) CueIndexes() []int {
	var out []int
	for _, c := range s.Cues() {
		out = append(out, c.Index)
	}
	return out
}

func (s *recordingSink) Idles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idles
}

type starterSink struct {
	*recordingSink
}

func (s starterSink) StartScene(_ context.Context, index int, _ config.Scene) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, index)
	return nil
}

type setterSink struct {
	*recordingSink
	owns map[string]bool

	setMu sync.Mutex
	set   map[string]string
}

func newSetterSink(name string, owns ...string) *setterSink {
	s := &setterSink{recordingSink: newRecordingSink(name), owns: map[string]bool{}, set: map[string]string{}}
	for _, o := range owns {
		s.owns[o] = true
	}
	return s
}

func (s *setterSink) SetOutput(_ context.Context, name, value string) error {
	if !s.owns[name] {
		return ErrUnknownOutput
	}
	if value == "fail" {
		return errors.New("bus busy")
	}
	s.setMu.Lock()
	s.set[name] = value
	s.setMu.Unlock()
	return nil
}

type pollerSink struct {
	*recordingSink
	pending []Verb
}

func (s *pollerSink) PollInputs(context.Context) ([]Verb, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out, nil
}

// slowPoller holds its inputs until release is closed, whatever the
// caller's deadline.
type slowPoller struct {
	*recordingSink
	release chan struct{}
	pending []Verb
}

func (s *slowPoller) PollInputs(context.Context) ([]Verb, error) {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out, nil
}

func cue(start float64, i2c map[string]bool) config.TimedOutput {
	return config.TimedOutput{StartTime: start, Outputs: config.Outputs{I2C: i2c}}
}

func testConfig() *config.Config {
	return &config.Config{
		Process: config.ProcessConfig{
			Leader:      "videoplayer",
			Tick:        time.Millisecond,
			SinkTimeout: 50 * time.Millisecond,
			QueueSize:   8,
			PrevAtStart: config.PrevRestart,
		},
		Idle: config.Idle{File: "idle.mp4", Outputs: config.Outputs{I2C: map[string]bool{"fan": false}}},
		Scenes: []config.Scene{
			{
				Name: "Departure", File: "departure.mp4", Duration: 20,
				TimedOutputs: []config.TimedOutput{
					cue(0, map[string]bool{"fan": true}),
					cue(5, map[string]bool{"smoke": true}),
					cue(12, map[string]bool{"fan": false}),
				},
			},
			{
				Name: "Cruise", File: "cruise.mp4", Duration: 10,
				TimedOutputs: []config.TimedOutput{cue(0, map[string]bool{"fan": true})},
			},
			{
				Name: "Landing", File: "landing.mp4", Duration: 8,
				TimedOutputs: []config.TimedOutput{cue(2, map[string]bool{"shaker": true})},
			},
		},
	}
}

type harness struct {
	o     *Orchestrator
	bus   *fakeBus
	clock *fakeClock
	ctx   context.Context
}

func newHarness(t *testing.T, module string, cfg *config.Config, sinks ...OutputSink) *harness {
	t.Helper()
	events.Clear()
	if cfg == nil {
		cfg = testConfig()
	}
	bus := newFakeBus()
	clock := newFakeClock()
	o := New(ProcessContext{
		Module:   module,
		Config:   cfg,
		Topics:   mqtt.Topics{Base: "show"},
		Bus:      bus,
		Log:      logging.Discard(),
		Messages: events.NewTopicLog(events.MessagesPerTopic),
		Now:      clock.Now,
	}, sinks...)
	return &harness{o: o, bus: bus, clock: clock, ctx: context.Background()}
}

func (h *harness) control(payload string) {
	h.o.Handle("show/control", []byte(payload))
	h.drain()
}

func (h *harness) message(topic, payload string) {
	h.o.Handle(topic, []byte(payload))
	h.drain()
}

// drain dispatches everything queued, as the main loop would.
func (h *harness) drain() {
	for {
		select {
		case msg := <-h.o.router.Queue():
			h.o.dispatch(h.ctx, msg)
		default:
			return
		}
	}
}

func (h *harness) tickAt(elapsed time.Duration) {
	h.clock.mu.Lock()
	h.clock.t = h.o.state.SceneStart.Add(elapsed)
	h.clock.mu.Unlock()
	h.o.tick(h.ctx)
}
