package orchestrator

import (
	"fmt"
	"log"

	"github.com/AaronLay10/SentientDirector/internal/events"
	"github.com/AaronLay10/SentientDirector/internal/scene"
)

// DirectorReset returns a scene to inactive, firing onReset actions for
// puzzles and tearing down any running program.
func (o *Orchestrator) DirectorReset(sceneID string) Result {
	sc := o.scenes.Get(sceneID)
	if sc == nil {
		return Result{Success: false, Reason: "Scene not found"}
	}

	if sc.State == scene.StateActive {
		if o.timers.Stop("scene-" + sceneID) {
			events.Emit("info", "timer.cancelled", "", map[string]any{"sceneId": sceneID})
		}
		if sc.Type == scene.TypeCutscene || sc.Type == scene.TypeScene {
			o.cutscenes.Stop(sceneID)
			for _, id := range o.cutscenes.CleanupLoops(sceneID) {
				events.Emit("info", "loop.stopped", "", map[string]any{
					"sceneId": sceneID,
					"loopId":  id,
				})
			}
		}
	}

	if sc.Type == scene.TypePuzzle {
		o.timelines.Stop(sceneID)
		o.cleanupPuzzle(sceneID)
		o.runActionGroup(sc, sc.OnReset, "onReset")
	}

	o.scenes.Reset(sceneID)
	events.Emit("info", "director.reset", "", map[string]any{"sceneId": sceneID})
	log.Printf("director: scene %s reset", sceneID)
	return Result{Success: true}
}

// DirectorOverride marks a scene solved by operator decision.
func (o *Orchestrator) DirectorOverride(sceneID string) Result {
	res := o.CompleteScene(sceneID, scene.StateOverridden)
	if res.Success {
		events.Emit("info", "director.override", "", map[string]any{"sceneId": sceneID})
	}
	return res
}

// DirectorSkip overrides a scene and reports which scenes are now
// available to start.
func (o *Orchestrator) DirectorSkip(sceneID string) (Result, []string) {
	res := o.DirectorOverride(sceneID)
	if !res.Success {
		return res, nil
	}
	sc := o.scenes.Get(sceneID)
	if sc == nil {
		return Result{Success: false, Reason: "Scene not found"}, nil
	}

	var next []string
	for _, s := range o.scenes.GetAvailableScenes(sc.RoomID) {
		next = append(next, s.ID)
	}
	events.Emit("info", "director.skip", "", map[string]any{
		"sceneId": sceneID,
		"next":    next,
	})
	return Result{Success: true}, next
}

// DirectorSkipStage completes the current stage of an active puzzle.
func (o *Orchestrator) DirectorSkipStage(sceneID string) Result {
	st, _, ok := o.stages.CurrentStage(sceneID)
	if !ok {
		return Result{Success: false, Reason: "No active stage for scene"}
	}
	if err := o.stages.CompleteStage(sceneID, st.ID); err != nil {
		return Result{Success: false, Reason: err.Error()}
	}
	events.Emit("info", "stage.skipped", "", map[string]any{
		"sceneId": sceneID,
		"stageId": st.ID,
	})
	return Result{Success: true}
}

// DirectorStop halts an active scene without a terminal outcome.
func (o *Orchestrator) DirectorStop(sceneID string) Result {
	sc := o.scenes.Get(sceneID)
	if sc == nil || sc.State != scene.StateActive {
		return Result{Success: false, Reason: "Scene is not active"}
	}

	if o.timers.Stop("scene-" + sceneID) {
		events.Emit("info", "timer.cancelled", "", map[string]any{"sceneId": sceneID})
	}
	switch sc.Type {
	case scene.TypeCutscene, scene.TypeScene:
		o.cutscenes.Stop(sceneID)
	case scene.TypePuzzle:
		o.timelines.Stop(sceneID)
		o.cleanupPuzzle(sceneID)
	}

	o.scenes.SetState(sceneID, scene.StateInactive)
	events.Emit("info", "director.stop", "", map[string]any{"sceneId": sceneID})
	log.Printf("director: scene %s stopped", sceneID)
	return Result{Success: true}
}

// DirectorPause freezes an active puzzle's countdown. Cutscenes cannot
// pause; their schedules are absolute.
func (o *Orchestrator) DirectorPause(sceneID string) Result {
	sc := o.scenes.Get(sceneID)
	if sc == nil || sc.State != scene.StateActive {
		return Result{Success: false, Reason: "Scene is not active"}
	}
	if sc.Type == scene.TypeCutscene || sc.Type == scene.TypeScene {
		if err := o.cutscenes.Pause(sceneID); err != nil {
			return Result{Success: false, Reason: err.Error()}
		}
	}
	if !o.timers.Pause("scene-" + sceneID) {
		return Result{Success: false, Reason: "Scene has no running timer"}
	}
	events.Emit("info", "timer.paused", "", map[string]any{"sceneId": sceneID})
	return Result{Success: true}
}

// DirectorResume releases a paused countdown.
func (o *Orchestrator) DirectorResume(sceneID string) Result {
	if !o.timers.Resume("scene-" + sceneID) {
		return Result{Success: false, Reason: "Scene has no paused timer"}
	}
	events.Emit("info", "timer.resumed", "", map[string]any{"sceneId": sceneID})
	return Result{Success: true}
}

// DirectorDeviceCommand publishes a direct device command through the
// authoritative routing path.
func (o *Orchestrator) DirectorDeviceCommand(device, command string, params map[string]any) Result {
	if err := o.publishDeviceCommand(device, command, params); err != nil {
		return Result{Success: false, Reason: err.Error()}
	}
	return Result{Success: true}
}

// TestStep fires a single authored step for bench testing, bypassing
// scene state entirely. The effects controller is preferred when
// configured, matching live playback.
func (o *Orchestrator) TestStep(sceneID string, a scene.SequenceAction) Result {
	sc := o.scenes.Get(sceneID)
	if sc == nil {
		return Result{Success: false, Reason: "Scene not found"}
	}

	events.Emit("info", "director.test", "", map[string]any{
		"sceneId": sceneID,
		"action":  a.Action,
		"target":  a.Target,
	})

	if o.effects != nil {
		if err := o.effects.TriggerSequence(a.Action, map[string]any{
			"sceneId":  sceneID,
			"roomId":   sc.RoomID,
			"target":   a.Target,
			"duration": a.Duration,
			"params":   a.Params,
		}); err != nil {
			return Result{Success: false, Reason: err.Error()}
		}
		return Result{Success: true}
	}

	if err := o.publishDeviceCommand(a.Target, a.Action, a.Params); err != nil {
		return Result{Success: false, Reason: err.Error()}
	}
	return Result{Success: true}
}

// SetRoomPower flips room power. Powering off stops every active scene
// in the room and parks it in powered_off; powering on releases those
// scenes back to inactive.
func (o *Orchestrator) SetRoomPower(roomID string, state scene.PowerState) {
	o.mu.Lock()
	o.roomPower[roomID] = state
	o.mu.Unlock()

	if state == scene.PowerOff || state == scene.PowerEmergencyOff {
		stopped := 0
		for _, sc := range o.scenes.ListByRoom(roomID) {
			if sc.State != scene.StateActive {
				continue
			}
			o.DirectorStop(sc.ID)
			o.scenes.SetState(sc.ID, scene.StatePoweredOff)
			stopped++
		}
		o.cutscenes.CleanupAllLoops()
		events.Emit("warn", "room.power", fmt.Sprintf("room powered %s", state), map[string]any{
			"roomId":  roomID,
			"state":   string(state),
			"stopped": stopped,
		})
		return
	}

	for _, sc := range o.scenes.ListByRoom(roomID) {
		if sc.State == scene.StatePoweredOff {
			o.scenes.SetState(sc.ID, scene.StateInactive)
		}
	}
	events.Emit("info", "room.power", "room powered on", map[string]any{
		"roomId": roomID,
		"state":  string(state),
	})
}

// ResetRoom resets every scene in a room.
func (o *Orchestrator) ResetRoom(roomID string) int {
	scenes := o.scenes.ListByRoom(roomID)
	for _, sc := range scenes {
		o.DirectorReset(sc.ID)
	}
	log.Printf("director: room %s reset (%d scenes)", roomID, len(scenes))
	return len(scenes)
}

// JumpToScene stops whatever is running in the room, overrides the
// target's unmet prerequisites, and starts the target with safety checks
// skipped.
func (o *Orchestrator) JumpToScene(roomID, targetSceneID string) Result {
	target := o.scenes.Get(targetSceneID)
	if target == nil || target.RoomID != roomID {
		return Result{Success: false, Reason: "Scene not found in this room"}
	}

	for _, sc := range o.scenes.ListByRoom(roomID) {
		if sc.State == scene.StateActive {
			o.DirectorStop(sc.ID)
		}
	}

	for _, prereqID := range target.Prerequisites {
		prereq := o.scenes.Get(prereqID)
		if prereq != nil && prereq.State != scene.StateSolved && prereq.State != scene.StateOverridden {
			o.DirectorOverride(prereqID)
		}
	}

	res := o.StartScene(targetSceneID, true)
	events.Emit("info", "director.jump", "", map[string]any{
		"roomId":  roomID,
		"sceneId": targetSceneID,
		"success": res.Success,
	})
	return res
}
