// Package api serves the HTTP surface of ShowSync processes: health,
// state, recent bus traffic, metrics, the live event stream and, on the
// dashboard, the control page.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/dashboard"
	"github.com/AaronLay10/ShowSync/internal/events"
	"github.com/AaronLay10/ShowSync/internal/metrics"
	"github.com/AaronLay10/ShowSync/internal/mqtt"
	"github.com/AaronLay10/ShowSync/internal/orchestrator"
	"github.com/AaronLay10/ShowSync/internal/version"
)

const (
	gracefulShutdownTimeout = 10 * time.Second
	defaultMessageLimit     = 100
)

// StateSource is implemented by *orchestrator.Orchestrator.
type StateSource interface {
	Snapshot() orchestrator.Snapshot
}

// Deps is what the HTTP surface reads from. Nil members switch their
// routes off: State for actuator processes, Tracker and Bus for the
// dashboard.
type Deps struct {
	Module     string
	ConfigPath string
	Log        *slog.Logger
	Metrics    *metrics.Metrics
	Topics     mqtt.Topics
	Messages   *events.TopicLog
	Peers      *mqtt.Monitor
	State      StateSource
	Tracker    *dashboard.Tracker
	// Bus publishes control verbs; only the dashboard sets it.
	Bus       orchestrator.Publisher
	Connected func() bool
}

// Server is the HTTP listener of a process.
type Server struct {
	d      Deps
	log    *slog.Logger
	server *http.Server
}

func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Server{d: d, log: d.Log.With("component", "api")}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Get("/messages", s.handleMessages)
	r.Get("/peers", s.handlePeers)
	r.Get("/events", s.handleEvents)
	r.Get("/ws", s.handleWebSocket)
	if s.d.Metrics != nil {
		r.Handle("/metrics", s.d.Metrics.Handler())
	}
	if s.d.ConfigPath != "" {
		r.Get("/config/check", s.handleConfigCheck)
	}
	if s.d.Bus != nil {
		r.Get("/", s.handleUI)
		r.Route("/control", func(r chi.Router) {
			r.Post("/play_single/{index}", s.handlePlaySingle)
			r.Post("/{verb}", s.handleControl)
		})
	}
	return r
}

// Start listens on addr until ctx is cancelled, then shuts down
// gracefully. TLS is used when tlsCfg has both files.
func (s *Server) Start(ctx context.Context, addr string, tlsCfg TLSConfig) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsCfg.Enabled() {
			tc, terr := tlsCfg.Load()
			if terr != nil {
				errCh <- terr
				return
			}
			s.server.TLSConfig = tc
			s.log.Info("https listening", "addr", addr)
			err = s.server.ListenAndServeTLS("", "")
		} else {
			s.log.Info("http listening", "addr", addr)
			err = s.server.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		return s.Close()
	}
}

// Close shuts the listener down, waiting for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

type HealthResponse struct {
	Status       string `json:"status"`
	Service      string `json:"service"`
	Module       string `json:"module"`
	Version      string `json:"version"`
	Hostname     string `json:"hostname"`
	BusConnected bool   `json:"bus_connected"`
	Timestamp    string `json:"ts"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "showsync",
		Module:    s.d.Module,
		Version:   version.Version,
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if s.d.Connected != nil {
		resp.BusConnected = s.d.Connected()
	}
	writeJSON(w, http.StatusOK, resp)
}

// DashboardState is /state on the dashboard.
type DashboardState struct {
	Leader  string                  `json:"leader"`
	Current dashboard.SceneStatus   `json:"current"`
	Modules []dashboard.SceneStatus `json:"modules"`
	Scenes  []SceneInfo             `json:"scenes"`
	Online  []string                `json:"online_modules"`
}

type SceneInfo struct {
	Index    int     `json:"index"`
	Name     string  `json:"name"`
	Duration float64 `json:"duration_seconds"`
	Image    string  `json:"image,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	switch {
	case s.d.State != nil:
		writeJSON(w, http.StatusOK, s.d.State.Snapshot())
	case s.d.Tracker != nil:
		t := s.d.Tracker
		st := DashboardState{
			Leader:  t.Leader(),
			Current: t.Current(),
			Modules: t.Modules(),
			Online:  t.Peers().OnlineModules(),
		}
		for i, sc := range t.Scenes() {
			st.Scenes = append(st.Scenes, SceneInfo{Index: i, Name: sc.Name, Duration: sc.Duration, Image: sc.Image})
		}
		writeJSON(w, http.StatusOK, st)
	default:
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no state in this process")
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.d.Messages == nil {
		writeJSON(w, http.StatusOK, []events.Message{})
		return
	}
	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	prefix := r.URL.Query().Get("topic")
	msgs := s.d.Messages.Recent(prefix, limit)
	if msgs == nil {
		msgs = []events.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	if s.d.Peers == nil {
		writeJSON(w, http.StatusOK, []mqtt.PeerState{})
		return
	}
	writeJSON(w, http.StatusOK, s.d.Peers.Peers())
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, events.Snapshot())
}

type ConfigCheckResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (s *Server) handleConfigCheck(w http.ResponseWriter, _ *http.Request) {
	ok, msg := config.Check(s.d.ConfigPath)
	status := http.StatusOK
	if !ok {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, ConfigCheckResponse{OK: ok, Message: msg})
}

// ControlResponse is returned by the control endpoints.
type ControlResponse struct {
	OK      bool   `json:"ok"`
	Command string `json:"command,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	cmd, err := orchestrator.ParseCommand(chi.URLParam(r, "verb"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ControlResponse{Error: err.Error()})
		return
	}
	s.sendControl(w, cmd)
}

func (s *Server) handlePlaySingle(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ControlResponse{Error: "index must be an integer"})
		return
	}
	if s.d.Tracker != nil && (idx < 0 || idx >= len(s.d.Tracker.Scenes())) {
		writeJSON(w, http.StatusNotFound, ControlResponse{Error: fmt.Sprintf("no scene %d", idx)})
		return
	}
	s.sendControl(w, orchestrator.Command{Verb: orchestrator.VerbPlaySingle, Index: idx})
}

func (s *Server) sendControl(w http.ResponseWriter, cmd orchestrator.Command) {
	if err := orchestrator.SendControl(s.d.Bus, s.d.Topics, cmd); err != nil {
		s.log.Warn("control command failed", "command", cmd.String(), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ControlResponse{Command: cmd.String(), Error: err.Error()})
		return
	}
	s.log.Info("control command sent", "command", cmd.String())
	writeJSON(w, http.StatusOK, ControlResponse{OK: true, Command: cmd.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
