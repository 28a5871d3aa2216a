package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/events"
	"github.com/AaronLay10/ShowSync/internal/metrics"
	"github.com/AaronLay10/ShowSync/internal/mqtt"
)

// Transport is the bus as seen by the main loop.
type Transport interface {
	Publisher
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

// ProcessContext carries everything a process is built from. It is
// assembled once in main.
type ProcessContext struct {
	Module   string
	Config   *config.Config
	Topics   mqtt.Topics
	Bus      Transport
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	Messages *events.TopicLog
	Now      func() time.Time
}

// Orchestrator runs the scene state machine of one process. Every
// mutation of its RuntimeState happens on the goroutine running Run.
type Orchestrator struct {
	pc     ProcessContext
	log    *slog.Logger
	sinks  []OutputSink
	router *Router
	sched  *Scheduler
	state  RuntimeState
	leader bool

	// sceneEnd is when the leader leaves the current scene; zero when
	// no timeout is armed.
	sceneEnd time.Time

	failMu   sync.Mutex
	failures map[string]failure

	// inputs holds verbs returned by PollInputs, including calls that
	// finished after their deadline; the next tick acts on them.
	inputMu sync.Mutex
	inputs  []polledInput

	snapMu sync.RWMutex
	snap   Snapshot
}

const (
	failureWindow = 5 * time.Second
	idleStartup   = "startup"
)

type polledInput struct {
	verb Verb
	sink string
}

type failure struct {
	msg string
	at  time.Time
}

// New wires an orchestrator for pc.Module with the given sinks.
func New(pc ProcessContext, sinks ...OutputSink) *Orchestrator {
	if pc.Now == nil {
		pc.Now = time.Now
	}
	if pc.Log == nil {
		pc.Log = slog.Default()
	}
	o := &Orchestrator{
		pc:       pc,
		log:      pc.Log.With("component", "orchestrator"),
		sinks:    sinks,
		state:    newRuntimeState(),
		leader:   pc.Module == pc.Config.Process.Leader,
		failures: make(map[string]failure),
	}
	o.router = NewRouter(pc)
	o.sched = NewScheduler(pc.Config.Scenes, &o.state, pc.Now)
	o.publishSnapshot()
	return o
}

// Handle is the bus message handler; see Router.Handle.
func (o *Orchestrator) Handle(topic string, payload []byte) {
	o.router.Handle(topic, payload)
}

// Subscribe registers the process's subscriptions on the bus.
func (o *Orchestrator) Subscribe() error {
	for _, topic := range o.router.Subscriptions() {
		if err := o.pc.Bus.Subscribe(topic, o.Handle); err != nil {
			return fmt.Errorf("subscribing %s: %w", topic, err)
		}
	}
	return nil
}

// IsLeader reports whether this process owns the transport verbs.
func (o *Orchestrator) IsLeader() bool { return o.leader }

// Snapshot returns the state as of the last loop iteration.
func (o *Orchestrator) Snapshot() Snapshot {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	s := o.snap
	s.Sinks = append([]string(nil), o.snap.Sinks...)
	return s
}

// Run enters idle and then drives the process until quit or ctx ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	role := "follower"
	if o.leader {
		role = "leader"
	}
	o.log.Info("main loop starting", "role", role, "scenes", len(o.pc.Config.Scenes), "sinks", len(o.sinks))
	events.Emit("info", "system.startup", "", map[string]interface{}{
		"module": o.pc.Module,
		"role":   role,
	})

	defer o.closeSinks()

	o.enterIdle(ctx, idleStartup)
	o.publishSnapshot()

	ticker := time.NewTicker(o.pc.Config.Process.Tick)
	defer ticker.Stop()

	for !o.state.Terminate {
		select {
		case <-ctx.Done():
			o.log.Info("main loop cancelled")
			return nil
		case msg := <-o.router.Queue():
			o.dispatch(ctx, msg)
		case <-ticker.C:
			o.tick(ctx)
		}
		o.publishSnapshot()
	}

	o.log.Info("main loop ended")
	events.Emit("info", "system.shutdown", "quit received", map[string]interface{}{"module": o.pc.Module})
	return nil
}

// dispatch handles one inbound message. Nothing it does may take down
// the loop: errors are logged and the message is dropped.
func (o *Orchestrator) dispatch(ctx context.Context, msg events.Message) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("panic while handling message", "topic", msg.Topic, "panic", r)
			events.Emit("error", "system.error", "message handler panic", map[string]interface{}{
				"topic": msg.Topic,
				"panic": fmt.Sprint(r),
			})
		}
	}()

	in, err := o.router.Decode(msg)
	if err != nil {
		o.log.Warn("ignoring message", "topic", msg.Topic, "payload", msg.Payload, "error", err)
		events.Emit("warning", "control.ignored", err.Error(), map[string]interface{}{"topic": msg.Topic})
		return
	}

	switch in.Route {
	case RouteControl, RoutePlaySingle:
		o.handleCommand(ctx, in.Command)
	case RouteLeaderScene:
		o.followScene(ctx, in)
	case RouteLeaderIdle:
		o.log.Info("leader went idle")
		o.enterIdle(ctx, "leader")
	case RouteDirectSet:
		o.setOutput(ctx, in.Name, in.Value)
	}
}

func (o *Orchestrator) handleCommand(ctx context.Context, cmd Command) {
	o.log.Info("control command", "command", cmd.String())
	o.pc.Metrics.ControlCommand(string(cmd.Verb))
	events.Emit("info", "control.received", "", map[string]interface{}{
		"command": cmd.String(),
		"module":  o.pc.Module,
	})

	if cmd.Transport() && !o.leader {
		o.log.Debug("transport verb left to leader", "command", cmd.String(), "leader", o.pc.Config.Process.Leader)
		return
	}

	switch cmd.Verb {
	case VerbQuit:
		o.state.Terminate = true
	case VerbStop:
		o.enterIdle(ctx, "stop")
	case VerbShutdown:
		o.enterIdle(ctx, "shutdown")
		o.writeShutdownSentinel("control")
	case VerbPlay:
		o.activate(ctx, 0, false)
	case VerbPlaySingle:
		if !o.validScene(cmd.Index) {
			o.log.Warn("invalid scene index for single play", "index", cmd.Index)
			o.enterIdle(ctx, "invalid play_single")
			return
		}
		o.activate(ctx, cmd.Index, true)
	case VerbNext:
		o.next(ctx)
	case VerbPrev:
		o.prev(ctx)
	}
}

func (o *Orchestrator) next(ctx context.Context) {
	if o.state.ReturnToIdle {
		o.enterIdle(ctx, "next after single")
		return
	}
	o.activate(ctx, o.state.SceneIndex+1, false)
}

func (o *Orchestrator) prev(ctx context.Context) {
	if o.state.ReturnToIdle {
		o.enterIdle(ctx, "prev after single")
		return
	}
	idx := o.state.SceneIndex - 1
	if idx >= 0 {
		o.activate(ctx, idx, false)
		return
	}
	if o.pc.Config.Process.PrevAtStart == config.PrevIdle {
		o.log.Info("reached beginning of scenes list, going idle")
		o.enterIdle(ctx, "prev at start")
		return
	}
	o.log.Info("reached beginning of scenes list, starting at the beginning")
	o.activate(ctx, 0, false)
}

func (o *Orchestrator) followScene(ctx context.Context, in Inbound) {
	if in.NoScene {
		o.log.Info("leader announced no scene")
		return
	}
	if !o.validScene(in.Scene) {
		o.log.Info("unknown scene index from leader", "index", in.Scene)
		return
	}
	o.activate(ctx, in.Scene, false)
}

func (o *Orchestrator) validScene(idx int) bool {
	return idx >= 0 && idx < len(o.pc.Config.Scenes)
}

// activate starts scene idx. Indices past the end of the list go idle.
func (o *Orchestrator) activate(ctx context.Context, idx int, single bool) {
	if !o.validScene(idx) {
		o.log.Info("reached end of scenes list, going idle", "index", idx)
		o.enterIdle(ctx, "end of scenes")
		return
	}

	scene := o.pc.Config.Scenes[idx]
	o.state.SceneIndex = idx
	o.state.ReturnToIdle = single
	o.sceneEnd = time.Time{}

	var starters []OutputSink
	for _, s := range o.sinks {
		if _, ok := s.(SceneStarter); ok {
			starters = append(starters, s)
		}
	}
	o.fanOut(ctx, "start_scene", starters, func(ctx context.Context, s OutputSink) error {
		return s.(SceneStarter).StartScene(ctx, idx, scene)
	})

	change := o.sched.CheckForOutputChange(true, false)
	if o.leader {
		o.sceneEnd = o.state.SceneStart.Add(scene.Length())
	}

	mode := o.state.Mode()
	o.log.Info("scene started", "index", idx, "name", scene.Name, "mode", mode)
	o.pc.Metrics.SceneActivated(string(mode), idx)
	events.Emit("info", "scene.started", scene.Name, map[string]interface{}{
		"index":  idx,
		"mode":   string(mode),
		"module": o.pc.Module,
	})
	o.publish(o.pc.Topics.Scene(o.pc.Module), strconv.Itoa(idx))

	if change.Changed && change.Index >= 0 {
		o.applyCue(ctx, change.Index)
	}
}

// enterIdle disables cue tracking and applies the idle snapshot. A
// process that is already idle keeps its outputs as they are: a follower
// sees both the local stop and the leader's idle for one transition.
func (o *Orchestrator) enterIdle(ctx context.Context, reason string) {
	if reason != idleStartup && o.state.SceneIndex < 0 && !o.state.Tracking {
		o.log.Debug("already idle", "reason", reason)
		return
	}
	o.state.SceneIndex = -1
	o.state.ReturnToIdle = false
	o.sceneEnd = time.Time{}
	o.sched.CheckForOutputChange(false, true)

	idle := o.pc.Config.Idle
	o.fanOut(ctx, "apply_idle", o.sinks, func(ctx context.Context, s OutputSink) error {
		return s.ApplyIdle(ctx, idle)
	})

	o.log.Info("idle", "reason", reason)
	o.pc.Metrics.SceneIdle()
	events.Emit("info", "scene.idle", reason, map[string]interface{}{"module": o.pc.Module})
	o.publish(o.pc.Topics.Idle(o.pc.Module), "idle")
}

func (o *Orchestrator) applyCue(ctx context.Context, index int) {
	idx := o.state.SceneIndex
	cue := MergeCue(idx, o.pc.Config.Scenes[idx], index)

	o.log.Debug("new output index", "scene", idx, "cue", index, "elapsed", o.sched.Elapsed())
	o.pc.Metrics.CueChanged()
	events.Emit("info", "cue.changed", "", map[string]interface{}{
		"scene":  idx,
		"cue":    index,
		"module": o.pc.Module,
	})
	o.publish(o.pc.Topics.Profile(o.pc.Module), strconv.Itoa(index))

	o.fanOut(ctx, "apply_outputs", o.sinks, func(ctx context.Context, s OutputSink) error {
		return s.ApplyOutputs(ctx, cue)
	})
}

// fanOut runs op on sinks concurrently and waits for all of them. Each
// call is bounded by the sink timeout, so one stalled device delays the
// loop by at most one timeout.
func (o *Orchestrator) fanOut(ctx context.Context, op string, sinks []OutputSink, fn func(context.Context, OutputSink) error) {
	var wg sync.WaitGroup
	for _, s := range sinks {
		wg.Add(1)
		go func(s OutputSink) {
			defer wg.Done()
			o.callSink(ctx, s, op, func(ctx context.Context) error { return fn(ctx, s) })
		}(s)
	}
	wg.Wait()
}

func (o *Orchestrator) tick(ctx context.Context) {
	o.pollInputs(ctx)

	if o.leader && o.state.SceneIndex >= 0 && !o.sceneEnd.IsZero() && !o.pc.Now().Before(o.sceneEnd) {
		idx := o.state.SceneIndex
		o.sceneEnd = time.Time{}
		events.Emit("info", "scene.completed", o.pc.Config.Scenes[idx].Name, map[string]interface{}{
			"index":  idx,
			"module": o.pc.Module,
		})
		if o.state.ReturnToIdle {
			o.enterIdle(ctx, "single scene finished")
		} else {
			o.activate(ctx, idx+1, false)
		}
		return
	}

	if change := o.sched.CheckForOutputChange(false, false); change.Changed && change.Index >= 0 {
		o.applyCue(ctx, change.Index)
	}
}

// pollInputs turns button presses into control commands. Edges are
// consumed inside the sink, so verbs from a call that overran its
// deadline are still collected and sent on a later tick.
func (o *Orchestrator) pollInputs(ctx context.Context) {
	for _, s := range o.sinks {
		poller, ok := s.(InputPoller)
		if !ok {
			continue
		}
		name := s.Name()
		o.callSink(ctx, s, "poll_inputs", func(ctx context.Context) error {
			verbs, err := poller.PollInputs(ctx)
			o.queueInputs(name, verbs)
			return err
		})
	}

	for _, in := range o.takeInputs() {
		o.log.Info("input pressed", "verb", in.verb, "sink", in.sink)
		events.Emit("info", "input.pressed", "", map[string]interface{}{
			"verb": string(in.verb),
			"sink": in.sink,
		})
		err := SendControl(o.pc.Bus, o.pc.Topics, Command{Verb: in.verb})
		if err == nil {
			continue
		}
		o.log.Warn("failed to send control command", "verb", in.verb, "error", err)
		// shutdown comes back on control and writes the sentinel there;
		// without the bus the button is the only way to get it written.
		if in.verb == VerbShutdown {
			o.writeShutdownSentinel(in.sink)
		}
	}
}

func (o *Orchestrator) queueInputs(sink string, verbs []Verb) {
	if len(verbs) == 0 {
		return
	}
	o.inputMu.Lock()
	defer o.inputMu.Unlock()
	for _, v := range verbs {
		o.inputs = append(o.inputs, polledInput{verb: v, sink: sink})
	}
}

func (o *Orchestrator) takeInputs() []polledInput {
	o.inputMu.Lock()
	defer o.inputMu.Unlock()
	out := o.inputs
	o.inputs = nil
	return out
}

// setOutput offers a direct set to each OutputSetter until one owns name.
func (o *Orchestrator) setOutput(ctx context.Context, name, value string) {
	for _, s := range o.sinks {
		setter, ok := s.(OutputSetter)
		if !ok {
			continue
		}
		err := o.callSink(ctx, s, "set_output", func(ctx context.Context) error {
			return setter.SetOutput(ctx, name, value)
		})
		if errors.Is(err, ErrUnknownOutput) {
			continue
		}
		if err == nil {
			events.Emit("info", "output.set", "", map[string]interface{}{
				"name":  name,
				"value": value,
				"sink":  s.Name(),
			})
			o.publish(o.pc.Topics.Notify(o.pc.Module, name), value)
		}
		return
	}
	o.log.Warn("no sink owns output", "name", name)
}

// callSink runs fn with the sink timeout, recovering panics. Failures
// are logged, counted and reported on the module's error topic; the
// error is returned for callers that need to inspect it.
func (o *Orchestrator) callSink(ctx context.Context, s OutputSink, op string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, o.pc.Config.Process.SinkTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrSinkPanic, r)
			}
		}()
		done <- fn(cctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-cctx.Done():
		err = cctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", ErrSinkTimeout, o.pc.Config.Process.SinkTimeout)
	}

	kind := ""
	switch {
	case err == nil || errors.Is(err, ErrUnknownOutput):
	case errors.Is(err, ErrSinkTimeout):
		kind = "timeout"
	case errors.Is(err, ErrSinkPanic):
		kind = "panic"
	default:
		kind = "error"
	}
	o.pc.Metrics.SinkCall(s.Name(), time.Since(start), kind)
	if kind == "" {
		return err
	}

	if o.repeatedFailure(s.Name()+"/"+op, err) {
		o.log.Debug("sink call failed again", "sink", s.Name(), "op", op, "error", err)
		return err
	}
	o.log.Warn("sink call failed", "sink", s.Name(), "op", op, "error", err)
	name := "sink.error"
	if kind == "timeout" {
		name = "sink.timeout"
	}
	events.Emit("error", name, err.Error(), map[string]interface{}{
		"sink": s.Name(),
		"op":   op,
	})
	o.publish(o.pc.Topics.Error(o.pc.Module), fmt.Sprintf("%s %s: %v", s.Name(), op, err))
	return err
}

// repeatedFailure reports whether the same error was already reported
// for key within failureWindow. Input polling fails every tick while a
// device is unplugged.
func (o *Orchestrator) repeatedFailure(key string, err error) bool {
	now := time.Now()
	o.failMu.Lock()
	defer o.failMu.Unlock()
	last, ok := o.failures[key]
	if ok && last.msg == err.Error() && now.Sub(last.at) < failureWindow {
		return true
	}
	o.failures[key] = failure{msg: err.Error(), at: now}
	return false
}

func (o *Orchestrator) publish(topic, payload string) {
	if o.pc.Bus == nil {
		return
	}
	if err := o.pc.Bus.Publish(topic, []byte(payload), false); err != nil {
		o.log.Warn("publish failed", "topic", topic, "error", err)
	}
}

func (o *Orchestrator) writeShutdownSentinel(source string) {
	path := o.pc.Config.Process.ShutdownSentinel
	if path == "" {
		return
	}
	if err := WriteShutdownSentinel(path, source, o.pc.Now()); err != nil {
		o.log.Error("failed to write shutdown sentinel", "path", path, "error", err)
		events.Emit("error", "system.error", "shutdown sentinel", map[string]interface{}{"error": err.Error()})
	}
}

// WriteShutdownSentinel creates the file an external supervisor watches
// to power the host down.
func WriteShutdownSentinel(path, source string, at time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	msg := fmt.Sprintf("Force system shutdown from %s at %s\n", source, at.UTC().Format(time.RFC3339))
	return os.WriteFile(path, []byte(msg), 0o644)
}

func (o *Orchestrator) closeSinks() {
	for _, s := range o.sinks {
		if c, ok := s.(Closer); ok {
			if err := c.Close(); err != nil {
				o.log.Warn("closing sink", "sink", s.Name(), "error", err)
			}
		}
	}
}

func (o *Orchestrator) publishSnapshot() {
	snap := Snapshot{
		Module:      o.pc.Module,
		Leader:      o.leader,
		Mode:        o.state.Mode(),
		SceneIndex:  o.state.SceneIndex,
		OutputIndex: o.state.OutputIndex,
		Elapsed:     o.sched.Elapsed().Seconds(),
		QueueDepth:  len(o.router.queue),
		Dropped:     o.router.Dropped(),
		UpdatedAt:   o.pc.Now(),
	}
	if o.validScene(o.state.SceneIndex) {
		scene := o.pc.Config.Scenes[o.state.SceneIndex]
		snap.SceneName = scene.Name
		snap.Duration = scene.Duration
	}
	for _, s := range o.sinks {
		snap.Sinks = append(snap.Sinks, s.Name())
	}

	o.snapMu.Lock()
	o.snap = snap
	o.snapMu.Unlock()
}
