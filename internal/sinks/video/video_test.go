package video

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/logging"
	"github.com/AaronLay10/ShowSync/internal/orchestrator"
)

// fakeVLC records the lines written to its rc socket.
type fakeVLC struct {
	mu    sync.Mutex
	lines []string
}

func startVLC(t *testing.T) (*fakeVLC, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vlc.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	v := &fakeVLC{}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			sc := bufio.NewScanner(conn)
			for sc.Scan() {
				v.mu.Lock()
				v.lines = append(v.lines, sc.Text())
				v.mu.Unlock()
			}
			conn.Close()
		}
	}()
	return v, path
}

func (v *fakeVLC) Lines() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.lines...)
}

func newTestSink(socket string) *Sink {
	return New(config.VideoPlayerConfig{
		MediaPath:     "/srv/media",
		RCSocket:      socket,
		IdleAnimation: "loop.mp4",
	}, logging.Discard())
}

func TestStartScene(t *testing.T) {
	vlc, sock := startVLC(t)
	s := newTestSink(sock)

	require.NoError(t, s.StartScene(context.Background(), 0, config.Scene{Name: "Departure", File: "departure.mp4"}))

	require.Eventually(t, func() bool { return len(vlc.Lines()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"clear", "add /srv/media/departure.mp4", "play"}, vlc.Lines())
}

func TestApplyIdle(t *testing.T) {
	vlc, sock := startVLC(t)
	s := newTestSink(sock)
	ctx := context.Background()

	require.NoError(t, s.ApplyIdle(ctx, config.Idle{}))
	require.Eventually(t, func() bool { return len(vlc.Lines()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"clear", "add /srv/media/loop.mp4", "play", "repeat on"}, vlc.Lines())

	require.NoError(t, s.ApplyIdle(ctx, config.Idle{File: "/opt/attract.mp4"}))
	require.Eventually(t, func() bool { return len(vlc.Lines()) == 8 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "add /opt/attract.mp4", vlc.Lines()[5])
}

func TestApplyOutputsIsNoop(t *testing.T) {
	s := newTestSink(filepath.Join(t.TempDir(), "missing.sock"))
	assert.NoError(t, s.ApplyOutputs(context.Background(), orchestrator.Cue{}))
}

func TestMissingSocket(t *testing.T) {
	s := newTestSink(filepath.Join(t.TempDir(), "missing.sock"))
	err := s.StartScene(context.Background(), 0, config.Scene{File: "a.mp4"})
	assert.True(t, errors.Is(err, ErrPlayerUnavailable))
}
