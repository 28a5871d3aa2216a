// Package video plays scene media on a VLC instance through its
// remote-control unix socket.
//
// VLC must be started with the old rc interface, e.g.
//
//	vlc --fullscreen --no-video-title-show -I oldrc --rc-unix /tmp/vlc.sock
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/orchestrator"
)

var ErrPlayerUnavailable = errors.New("vlc control socket unavailable")

var _ orchestrator.SceneStarter = (*Sink)(nil)

// Sink loads the scene file on activation and loops the idle animation
// while idle.
type Sink struct {
	socket    string
	mediaPath string
	idleFile  string
	log       *slog.Logger
	mu        sync.Mutex
}

func New(cfg config.VideoPlayerConfig, log *slog.Logger) *Sink {
	return &Sink{
		socket:    cfg.RCSocket,
		mediaPath: cfg.MediaPath,
		idleFile:  cfg.IdleAnimation,
		log:       log.With("sink", "video"),
	}
}

func (s *Sink) Name() string { return "video" }

func (s *Sink) StartScene(ctx context.Context, index int, scene config.Scene) error {
	file := s.media(scene.File)
	s.log.Debug("playing video file", "file", file, "scene", scene.Name, "index", index)
	return s.send(ctx, "clear", "add "+file, "play")
}

// ApplyOutputs is a no-op: video follows scene activation, not cues.
func (s *Sink) ApplyOutputs(context.Context, orchestrator.Cue) error { return nil }

// ApplyIdle loops the idle animation. idle.File wins over the player's
// configured animation.
func (s *Sink) ApplyIdle(ctx context.Context, idle config.Idle) error {
	name := idle.File
	if name == "" {
		name = s.idleFile
	}
	if name == "" {
		return s.send(ctx, "stop")
	}
	file := s.media(name)
	s.log.Debug("loading idle animation", "file", file)
	return s.send(ctx, "clear", "add "+file, "play", "repeat on")
}

func (s *Sink) media(name string) string {
	if filepath.IsAbs(name) || s.mediaPath == "" {
		return name
	}
	return filepath.Join(s.mediaPath, name)
}

// send writes commands, one per line, on a single connection.
func (s *Sink) send(ctx context.Context, cmds ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", s.socket)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPlayerUnavailable, s.socket, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}

	if _, err := conn.Write([]byte(strings.Join(cmds, "\n") + "\n")); err != nil {
		return fmt.Errorf("writing vlc commands: %w", err)
	}
	return nil
}
