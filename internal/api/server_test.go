package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/dashboard"
	"github.com/AaronLay10/ShowSync/internal/events"
	"github.com/AaronLay10/ShowSync/internal/metrics"
	"github.com/AaronLay10/ShowSync/internal/mqtt"
	"github.com/AaronLay10/ShowSync/internal/orchestrator"
)

var testTopics = mqtt.Topics{Base: "show"}

type published struct {
	topic   string
	payload string
}

type fakeBus struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (b *fakeBus) Publish(topic string, payload []byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, published{topic, string(payload)})
	return nil
}

func (b *fakeBus) Sent() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.sent...)
}

type fixedState struct{ snap orchestrator.Snapshot }

func (f fixedState) Snapshot() orchestrator.Snapshot { return f.snap }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDashboard(t *testing.T) (*Server, *fakeBus, *dashboard.Tracker) {
	t.Helper()
	cfg := &config.Config{
		Process: config.ProcessConfig{Leader: "videoplayer"},
		Scenes: []config.Scene{
			{Name: "Departure", Duration: 42, Image: "departure.png"},
			{Name: "Landing", Duration: 30},
		},
	}
	messages := events.NewTopicLog(events.MessagesPerTopic)
	tracker := dashboard.NewTracker(testTopics, cfg, messages, mqtt.NewMonitor())
	bus := &fakeBus{}
	s := New(Deps{
		Module:    "api",
		Log:       quietLogger(),
		Topics:    testTopics,
		Messages:  messages,
		Peers:     tracker.Peers(),
		Tracker:   tracker,
		Bus:       bus,
		Connected: func() bool { return true },
	})
	return s, bus, tracker
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	s := New(Deps{Module: "wled", Log: quietLogger(), Connected: func() bool { return true }})

	w := do(t, s.Handler(), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "wled", resp.Module)
	assert.True(t, resp.BusConnected)
	assert.NotEmpty(t, resp.Version)
	_, err := time.Parse(time.RFC3339Nano, resp.Timestamp)
	assert.NoError(t, err)
}

func TestStateFromOrchestrator(t *testing.T) {
	s := New(Deps{
		Module: "i2c",
		Log:    quietLogger(),
		State: fixedState{orchestrator.Snapshot{
			Module:     "i2c",
			Mode:       orchestrator.ModePlaying,
			SceneIndex: 1,
			SceneName:  "Landing",
		}},
	})

	w := do(t, s.Handler(), http.MethodGet, "/state")
	require.Equal(t, http.StatusOK, w.Code)

	snap := decode[orchestrator.Snapshot](t, w)
	assert.Equal(t, 1, snap.SceneIndex)
	assert.Equal(t, "Landing", snap.SceneName)
}

func TestStateFromTracker(t *testing.T) {
	s, _, tracker := newDashboard(t)
	tracker.Handle("show/videoplayer/scene", []byte("1"))
	tracker.Handle("show/status", []byte("ShowSync-videoplayer-ab12 online"))

	w := do(t, s.Handler(), http.MethodGet, "/state")
	require.Equal(t, http.StatusOK, w.Code)

	st := decode[DashboardState](t, w)
	assert.Equal(t, "videoplayer", st.Leader)
	assert.True(t, st.Current.Playing)
	assert.Equal(t, 1, st.Current.Index)
	assert.Equal(t, "Landing", st.Current.Name)
	require.Len(t, st.Scenes, 2)
	assert.Equal(t, "departure.png", st.Scenes[0].Image)
	assert.Equal(t, []string{"videoplayer"}, st.Online)
}

func TestStateWithoutSource(t *testing.T) {
	s := New(Deps{Log: quietLogger()})
	w := do(t, s.Handler(), http.MethodGet, "/state")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decode[Error](t, w).Code)
}

func TestMessagesEndpoint(t *testing.T) {
	s, _, tracker := newDashboard(t)
	tracker.Handle("show/videoplayer/scene", []byte("0"))
	tracker.Handle("show/wled/notify/1/0/bri", []byte("128"))
	tracker.Handle("show/videoplayer/scene", []byte("1"))

	w := do(t, s.Handler(), http.MethodGet, "/messages?topic=show/videoplayer&limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[[]events.Message](t, w)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1", msgs[0].Payload)

	w = do(t, s.Handler(), http.MethodGet, "/messages")
	assert.Len(t, decode[[]events.Message](t, w), 3)
}

func TestMessagesBadLimit(t *testing.T) {
	s, _, _ := newDashboard(t)
	w := do(t, s.Handler(), http.MethodGet, "/messages?limit=-3")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrCodeBadRequest, decode[Error](t, w).Code)
}

func TestPeersEndpoint(t *testing.T) {
	s, _, tracker := newDashboard(t)
	tracker.Handle("show/status", []byte("ShowSync-wled-0001 online"))
	tracker.Handle("show/status", []byte("ShowSync-i2c-0002 offline"))

	w := do(t, s.Handler(), http.MethodGet, "/peers")
	require.Equal(t, http.StatusOK, w.Code)
	peers := decode[[]mqtt.PeerState](t, w)
	assert.Len(t, peers, 2)
}

func TestEventsEndpoint(t *testing.T) {
	events.Clear()
	_, err := events.Emit("info", "scene.started", "Departure", nil)
	require.NoError(t, err)

	s := New(Deps{Log: quietLogger()})
	w := do(t, s.Handler(), http.MethodGet, "/events")
	require.Equal(t, http.StatusOK, w.Code)
	evs := decode[[]events.Event](t, w)
	require.NotEmpty(t, evs)
	assert.Equal(t, "scene.started", evs[len(evs)-1].Name)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New("videoplayer")
	m.SceneActivated("playing", 0)
	s := New(Deps{Log: quietLogger(), Metrics: m})

	w := do(t, s.Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "showsync_")
}

func TestConfigCheckEndpoint(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(good, []byte("scenes:\n  - name: one\n    duration: 5\n"), 0o600))

	w := do(t, New(Deps{Log: quietLogger(), ConfigPath: good}).Handler(), http.MethodGet, "/config/check")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[ConfigCheckResponse](t, w).OK)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("process: {tick: -1s}"), 0o600))
	w = do(t, New(Deps{Log: quietLogger(), ConfigPath: bad}).Handler(), http.MethodGet, "/config/check")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, decode[ConfigCheckResponse](t, w).OK)
}

func TestControlPublishesVerb(t *testing.T) {
	s, bus, _ := newDashboard(t)
	h := s.Handler()

	for _, verb := range []string{"play", "next", "prev", "stop"} {
		w := do(t, h, http.MethodPost, "/control/"+verb)
		require.Equal(t, http.StatusOK, w.Code, verb)
		resp := decode[ControlResponse](t, w)
		assert.True(t, resp.OK)
		assert.Equal(t, verb, resp.Command)
	}

	sent := bus.Sent()
	require.Len(t, sent, 4)
	for _, p := range sent {
		assert.Equal(t, "show/control", p.topic)
	}
	assert.Equal(t, "stop", sent[3].payload)
}

func TestControlPlaySingle(t *testing.T) {
	s, bus, _ := newDashboard(t)

	w := do(t, s.Handler(), http.MethodPost, "/control/play_single/1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []published{{"show/control", "play_single_1"}}, bus.Sent())
}

func TestControlPlaySingleOutOfRange(t *testing.T) {
	s, bus, _ := newDashboard(t)

	w := do(t, s.Handler(), http.MethodPost, "/control/play_single/7")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, s.Handler(), http.MethodPost, "/control/play_single/x")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, bus.Sent())
}

func TestControlUnknownVerb(t *testing.T) {
	s, bus, _ := newDashboard(t)

	w := do(t, s.Handler(), http.MethodPost, "/control/rewind")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode[ControlResponse](t, w).Error)
	assert.Empty(t, bus.Sent())
}

func TestControlBusFailure(t *testing.T) {
	s, bus, _ := newDashboard(t)
	bus.err = errors.New("not connected")

	w := do(t, s.Handler(), http.MethodPost, "/control/play")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode[ControlResponse](t, w).Error, "not connected")
}

func TestControlRoutesOnlyOnDashboard(t *testing.T) {
	s := New(Deps{Log: quietLogger()})
	h := s.Handler()

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/control/play").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/").Code)
}

func TestControlPage(t *testing.T) {
	s, _, _ := newDashboard(t)
	w := do(t, s.Handler(), http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "/control/")
}

func TestRecoveryMiddleware(t *testing.T) {
	s := New(Deps{Log: quietLogger()})
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := do(t, h, http.MethodGet, "/")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternal, decode[Error](t, w).Code)
}
