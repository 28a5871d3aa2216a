// Package novastar switches programs on a Novastar video-wall controller
// over its TCP control port.
package novastar

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/orchestrator"
)

var ErrNoResponse = errors.New("no response from novastar controller")

const (
	framePrefix = "55AA0001FC000800000001000C000000020002"
	frameSuffix = "5E56"

	// initProgram is sent once at startup to load the program list.
	initProgram = 5

	// replies are read until the line stays quiet this long before the
	// caller's deadline.
	deadlineMargin = 20 * time.Millisecond
)

var _ orchestrator.SceneStarter = (*Sink)(nil)

// PlayFrame returns the binary command selecting program.
func PlayFrame(program int) []byte {
	b, err := hex.DecodeString(fmt.Sprintf("%s%02x%s", framePrefix, program&0xff, frameSuffix))
	if err != nil {
		panic(err)
	}
	return b
}

// Sink sends novastar_output program changes. A program is sent once
// per activation; merged cues that repeat it leave the wall alone.
type Sink struct {
	addr            string
	dialTimeout     time.Duration
	responseTimeout time.Duration
	log             *slog.Logger

	mu   sync.Mutex
	sent *int
}

func New(cfg config.NovastarConfig, log *slog.Logger) *Sink {
	addr := net.JoinHostPort(cfg.ControllerIP, strconv.Itoa(cfg.ControllerPort))
	return &Sink{
		addr:            addr,
		dialTimeout:     cfg.DialTimeout,
		responseTimeout: cfg.ResponseTimeout,
		log:             log.With("sink", "novastar", "controller", addr),
	}
}

func (s *Sink) Name() string { return "novastar" }

// Init loads the program list on the controller.
func (s *Sink) Init(ctx context.Context) error {
	s.log.Info("initializing program list")
	resp, err := s.Send(ctx, PlayFrame(initProgram))
	if err != nil {
		return err
	}
	s.log.Info("controller answered", "response", hex.EncodeToString(resp))
	return nil
}

func (s *Sink) StartScene(context.Context, int, config.Scene) error {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
	return nil
}

func (s *Sink) ApplyOutputs(ctx context.Context, cue orchestrator.Cue) error {
	return s.play(ctx, cue.Outputs.Novastar, false)
}

func (s *Sink) ApplyIdle(ctx context.Context, idle config.Idle) error {
	return s.play(ctx, idle.Novastar, true)
}

func (s *Sink) play(ctx context.Context, program *int, force bool) error {
	if program == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !force && s.sent != nil && *s.sent == *program {
		return nil
	}
	s.log.Info("playing novastar program", "program", *program)
	if _, err := s.Send(ctx, PlayFrame(*program)); err != nil {
		s.sent = nil
		return err
	}
	p := *program
	s.sent = &p
	return nil
}

// Send writes frame on a fresh connection and collects the reply until
// the controller stays quiet for the response timeout. An empty reply
// is ErrNoResponse.
func (s *Sink) Send(ctx context.Context, frame []byte) ([]byte, error) {
	d := net.Dialer{Timeout: s.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", s.addr, err)
	}
	defer conn.Close()

	s.log.Debug("sending command", "frame", hex.EncodeToString(frame))
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	if _, err := conn.Write(frame); err != nil {
		return nil, fmt.Errorf("sending to %s: %w", s.addr, err)
	}

	var (
		resp []byte
		buf  = make([]byte, 1024)
	)
	for {
		_ = conn.SetReadDeadline(s.quietDeadline(ctx))
		n, err := conn.Read(buf)
		resp = append(resp, buf[:n]...)
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.EOF) {
			break
		}
		return resp, fmt.Errorf("reading from %s: %w", s.addr, err)
	}
	s.log.Debug("full response", "response", hex.EncodeToString(resp))
	if len(resp) == 0 {
		return nil, ErrNoResponse
	}
	return resp, nil
}

func (s *Sink) quietDeadline(ctx context.Context) time.Time {
	d := time.Now().Add(s.responseTimeout)
	if dl, ok := ctx.Deadline(); ok {
		if dl = dl.Add(-deadlineMargin); dl.Before(d) {
			d = dl
		}
	}
	return d
}
