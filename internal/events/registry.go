package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// scene lifecycle
	"scene.started":    {},
	"scene.completed":  {},
	"scene.failed":     {},
	"scene.timeout":    {},
	"scene.overridden": {},
	"scene.blocked":    {},

	// stage progression
	"stage.started":    {},
	"stage.completed":  {},
	"stage.timeout":    {},
	"stage.skipped":    {},
	"puzzle.completed": {},

	// sensor watches
	"watch.triggered": {},
	"watch.disabled":  {},

	// actions
	"action.execute": {},
	"action.error":   {},

	// cutscenes and loops
	"cutscene.action":    {},
	"cutscene.completed": {},
	"loop.stopped":       {},

	// timelines
	"timeline.block":    {},
	"timeline.watch":    {},
	"timeline.variable": {},
	"timeline.solved":   {},
	"timeline.failed":   {},
	"timeline.reset":    {},
	"timeline.finished": {},
	"timeline.error":    {},

	// timers
	"timer.started":   {},
	"timer.expired":   {},
	"timer.paused":    {},
	"timer.resumed":   {},
	"timer.cancelled": {},

	// safety
	"safety.passed": {},
	"safety.failed": {},

	// director operations
	"director.override": {},
	"director.reset":    {},
	"director.skip":     {},
	"director.jump":     {},
	"director.stop":     {},
	"director.test":     {},

	// devices and room
	"device.command": {},
	"device.input":   {},
	"device.error":   {},
	"room.power":     {},

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
