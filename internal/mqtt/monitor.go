package mqtt

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AaronLay10/ShowSync/internal/events"
)

// PeerState tracks one process seen on the status topic.
type PeerState struct {
	ClientID string    `json:"client_id"`
	Module   string    `json:"module"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
	// Flaps counts online transitions after the first one.
	Flaps int `json:"flaps"`
}

// Monitor tracks the presence of installation processes from their
// "<client-id> online|offline" status messages.
type Monitor struct {
	mu    sync.RWMutex
	peers map[string]*PeerState
	now   func() time.Time
}

// NewMonitor creates a new peer monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		peers: make(map[string]*PeerState),
		now:   time.Now,
	}
}

// ParseStatus splits a status payload into client id and presence.
func ParseStatus(payload []byte) (clientID string, online bool, ok bool) {
	id, state, found := strings.Cut(strings.TrimSpace(string(payload)), " ")
	if !found || id == "" {
		return "", false, false
	}
	switch state {
	case "online":
		return id, true, true
	case "offline":
		return id, false, true
	}
	return "", false, false
}

// moduleFromID extracts the module from "<prefix>-<module>-<suffix>".
func moduleFromID(id string) string {
	parts := strings.Split(id, "-")
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[1:len(parts)-1], "-")
}

// HandleStatus processes a status payload. Malformed payloads are ignored.
func (m *Monitor) HandleStatus(payload []byte) (PeerState, bool) {
	id, online, ok := ParseStatus(payload)
	if !ok {
		return PeerState{}, false
	}

	m.mu.Lock()
	state, known := m.peers[id]
	if !known {
		state = &PeerState{ClientID: id, Module: moduleFromID(id)}
		m.peers[id] = state
	}
	changed := !known || state.Online != online
	if known && online && !state.Online {
		state.Flaps++
	}
	state.Online = online
	state.LastSeen = m.now()
	out := *state
	m.mu.Unlock()

	if changed {
		name := "peer.offline"
		level := "warning"
		if online {
			name, level = "peer.online", "info"
		}
		events.Emit(level, name, "", map[string]interface{}{
			"client_id": id,
			"module":    out.Module,
		})
	}
	return out, true
}

// Peer returns a copy of the state of a client id.
func (m *Monitor) Peer(clientID string) (PeerState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.peers[clientID]; ok {
		return *state, true
	}
	return PeerState{}, false
}

// Peers returns every known peer ordered by module, then client id.
func (m *Monitor) Peers() []PeerState {
	m.mu.RLock()
	out := make([]PeerState, 0, len(m.peers))
	for _, state := range m.peers {
		out = append(out, *state)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

// OnlineModules returns the distinct modules with at least one online process.
func (m *Monitor) OnlineModules() []string {
	seen := map[string]struct{}{}
	var modules []string
	for _, p := range m.Peers() {
		if !p.Online || p.Module == "" {
			continue
		}
		if _, dup := seen[p.Module]; dup {
			continue
		}
		seen[p.Module] = struct{}{}
		modules = append(modules, p.Module)
	}
	return modules
}
