package mqtt

import "strings"

// Topics builds the installation's topic names under a base topic.
type Topics struct {
	Base string
}

func (t Topics) join(parts ...string) string {
	return t.Base + "/" + strings.Join(parts, "/")
}

// Control is the shared transport-verb channel.
func (t Topics) Control() string { return t.join("control") }

// Status carries "<client-id> online|offline" presence messages.
func (t Topics) Status() string { return t.join("status") }

// Scene is where module publishes the scene index it activated.
func (t Topics) Scene(module string) string { return t.join(module, "scene") }

// Idle is where module announces its idle transition.
func (t Topics) Idle(module string) string { return t.join(module, "idle") }

// Profile carries the active cue index of module.
func (t Topics) Profile(module string) string { return t.join(module, "profile") }

// Error carries soft failures reported by module's sinks.
func (t Topics) Error(module string) string { return t.join(module, "error") }

// PlaySingle is the video player's legacy single-scene request channel.
func (t Topics) PlaySingle(module string) string { return t.join(module, "play_single") }

// Notify echoes a value after a direct output set.
func (t Topics) Notify(module, name string) string { return t.join(module, "notify", name) }

// Output is the direct single-output set channel of module.
func (t Topics) Output(module, name string) string { return t.join(module, "output", name) }

// Arduino is the direct value channel for an Arduino device on module.
func (t Topics) Arduino(module, device string) string { return t.join(module, "arduino", device) }

// Module matches everything below module.
func (t Topics) Module(module string) string { return t.join(module, "#") }

// All matches every topic of the installation.
func (t Topics) All() string { return t.join("#") }

// Split strips the base topic and returns the remaining levels.
// ok is false when topic is not below the base.
func (t Topics) Split(topic string) (levels []string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Base+"/")
	if !found || rest == "" {
		return nil, false
	}
	return strings.Split(rest, "/"), true
}

// WLEDAPI is the JSON API topic a WLED controller listens on. It lives
// outside the base topic.
func WLEDAPI(device string) string {
	return "wled/" + device + "/api"
}
