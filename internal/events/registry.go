package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// scene
	"scene.started":   {},
	"scene.completed": {},
	"scene.idle":      {},
	"cue.changed":     {},

	// control
	"control.received": {},
	"control.ignored":  {},

	// outputs
	"output.set":   {},
	"sink.error":   {},
	"sink.timeout": {},

	// bus
	"bus.connected":    {},
	"bus.disconnected": {},
	"bus.dropped":      {},
	"peer.online":      {},
	"peer.offline":     {},

	// hardware
	"input.pressed": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
