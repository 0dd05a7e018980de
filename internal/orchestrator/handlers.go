package orchestrator

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/AaronLay10/SentientDirector/internal/action"
	"github.com/AaronLay10/SentientDirector/internal/events"
	"github.com/AaronLay10/SentientDirector/internal/scene"
	"github.com/AaronLay10/SentientDirector/internal/timeline"
	"github.com/AaronLay10/SentientDirector/internal/watch"
)

// scene.Listener

func (o *Orchestrator) SceneStarted(sc *scene.Runtime) {
	events.Emit("info", "scene.started", "", map[string]any{
		"sceneId": sc.ID,
		"roomId":  sc.RoomID,
		"type":    string(sc.Type),
	})
}

func (o *Orchestrator) SceneCompleted(sc *scene.Runtime) {
	name := "scene.completed"
	level := "info"
	switch sc.State {
	case scene.StateFailed:
		name = "scene.failed"
		level = "warn"
	case scene.StateTimeout:
		name = "scene.timeout"
		level = "warn"
	case scene.StateOverridden:
		name = "scene.overridden"
	}
	events.Emit(level, name, "", map[string]any{
		"sceneId":  sc.ID,
		"roomId":   sc.RoomID,
		"state":    string(sc.State),
		"attempts": sc.Attempts,
	})
}

func (o *Orchestrator) SceneUpdated(sc *scene.Runtime) {
	log.Printf("orchestrator: scene %s now %s", sc.ID, sc.State)
}

// watch.Listener

func (o *Orchestrator) WatchTriggered(t watch.Trigger) {
	events.Emit("info", "watch.triggered", "", map[string]any{
		"watchId": t.WatchID,
		"sceneId": t.SceneID,
		"name":    t.Watch.Name,
		"actions": len(t.Actions),
	})

	sc := o.scenes.Get(t.SceneID)
	if sc == nil {
		log.Printf("orchestrator: watch %s fired for unknown scene %s", t.WatchID, t.SceneID)
		return
	}
	o.actions.ExecuteGroup(scene.ActionGroup{Actions: t.Actions, DelayMs: t.DelayMs}, action.Context{
		SceneID:     t.SceneID,
		RoomID:      sc.RoomID,
		TriggeredBy: "watch:" + t.WatchID,
	})
}

func (o *Orchestrator) WatchDisabled(watchID, sceneID, reason string) {
	events.Emit("debug", "watch.disabled", reason, map[string]any{
		"watchId": watchID,
		"sceneId": sceneID,
	})
}

// action.Dispatcher

func (o *Orchestrator) Dispatch(a scene.ConditionalAction, ctx action.Context) error {
	switch a.Type {
	case "mqtt.publish":
		// The target is the device; the command rides in the payload,
		// falling back to the target name for terse authoring.
		command := a.Target
		params := a.Payload
		if params != nil {
			if c, ok := params["command"].(string); ok && c != "" {
				command = c
			}
		}
		return o.publishDeviceCommand(a.Target, command, params)

	case "scene.complete":
		res := o.CompleteScene(ctx.SceneID, scene.StateSolved)
		if !res.Success {
			return fmt.Errorf("scene.complete: %s", res.Reason)
		}
		return nil

	case "scene.fail":
		res := o.CompleteScene(ctx.SceneID, scene.StateFailed)
		if !res.Success {
			return fmt.Errorf("scene.fail: %s", res.Reason)
		}
		return nil

	case "scene.start":
		res := o.StartScene(a.Target, false)
		if !res.Success {
			return fmt.Errorf("scene.start %s: %s", a.Target, res.Reason)
		}
		return nil

	case "puzzle.phase.advance":
		// Stage progression is condition driven; this type exists for
		// authoring compatibility and is a no-op.
		return nil

	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

// action.Listener

func (o *Orchestrator) ActionExecuted(id string, a scene.ConditionalAction, ctx action.Context) {
	events.Emit("info", "action.execute", "", map[string]any{
		"actionId":    id,
		"type":        a.Type,
		"target":      a.Target,
		"sceneId":     ctx.SceneID,
		"triggeredBy": ctx.TriggeredBy,
	})
}

func (o *Orchestrator) ActionError(id string, a scene.ConditionalAction, ctx action.Context, err error) {
	events.Emit("error", "action.error", err.Error(), map[string]any{
		"actionId": id,
		"type":     a.Type,
		"target":   a.Target,
		"sceneId":  ctx.SceneID,
	})
}

// stage.Listener

func (o *Orchestrator) StageStarted(sceneID string, st scene.Stage, index, total int) {
	events.Emit("info", "stage.started", "", map[string]any{
		"sceneId": sceneID,
		"stageId": st.ID,
		"name":    st.Name,
		"index":   index,
		"total":   total,
	})
}

func (o *Orchestrator) StageCompleted(sceneID string, st scene.Stage, elapsed time.Duration) {
	events.Emit("info", "stage.completed", "", map[string]any{
		"sceneId":   sceneID,
		"stageId":   st.ID,
		"name":      st.Name,
		"elapsedMs": elapsed.Milliseconds(),
	})
	if st.OnComplete != nil {
		if sc := o.scenes.Get(sceneID); sc != nil {
			o.runActionGroup(sc, st.OnComplete, "stage:"+st.ID)
		}
	}
}

func (o *Orchestrator) StageTimeout(sceneID string, st scene.Stage, elapsed time.Duration) {
	events.Emit("warn", "stage.timeout", "", map[string]any{
		"sceneId":   sceneID,
		"stageId":   st.ID,
		"elapsedMs": elapsed.Milliseconds(),
	})
	o.CompleteScene(sceneID, scene.StateFailed)
}

func (o *Orchestrator) PuzzleCompleted(sceneID string, total time.Duration, stages int) {
	events.Emit("info", "puzzle.completed", "", map[string]any{
		"sceneId":        sceneID,
		"totalElapsedMs": total.Milliseconds(),
		"stages":         stages,
	})
	o.CompleteScene(sceneID, scene.StateSolved)
}

// timeline.Listener

func (o *Orchestrator) BlockStarted(sceneID string, b scene.Block, index int) {
	o.scenes.SetCurrentActionIndex(sceneID, index)
	events.Emit("debug", "timeline.block", "", map[string]any{
		"sceneId": sceneID,
		"blockId": b.ID,
		"type":    string(b.Type),
		"index":   index,
	})
}

func (o *Orchestrator) WatchTick(sceneID string, b scene.Block, values map[string]any) {
	events.Emit("debug", "timeline.watch", "", map[string]any{
		"sceneId": sceneID,
		"blockId": b.ID,
		"values":  values,
	})
}

func (o *Orchestrator) TimelineAction(sceneID string, a scene.TimelineAction) {
	if err := o.publishDeviceCommand(a.Target, a.Type, a.Payload); err != nil {
		log.Printf("orchestrator: timeline action for %s failed: %v", sceneID, err)
	}
}

func (o *Orchestrator) AudioCue(sceneID, cue, device string) {
	if o.effects != nil {
		sc := o.scenes.Get(sceneID)
		roomID := ""
		if sc != nil {
			roomID = sc.RoomID
		}
		if err := o.effects.TriggerSequence(cue, map[string]any{
			"sceneId": sceneID,
			"roomId":  roomID,
			"target":  device,
		}); err != nil {
			log.Printf("orchestrator: audio cue %s failed: %v", cue, err)
		}
		return
	}
	if err := o.publishDeviceCommand(device, cue, nil); err != nil {
		log.Printf("orchestrator: audio cue %s failed: %v", cue, err)
	}
}

func (o *Orchestrator) VariableSet(sceneID, name string, value any) {
	events.Emit("debug", "timeline.variable", "", map[string]any{
		"sceneId": sceneID,
		"name":    name,
		"value":   value,
	})
}

func (o *Orchestrator) TimelineSolved(sceneID string) {
	events.Emit("info", "timeline.solved", "", map[string]any{"sceneId": sceneID})
	o.CompleteScene(sceneID, scene.StateSolved)
}

func (o *Orchestrator) TimelineFailed(sceneID string) {
	events.Emit("warn", "timeline.failed", "", map[string]any{"sceneId": sceneID})
	o.CompleteScene(sceneID, scene.StateFailed)
}

func (o *Orchestrator) TimelineReset(sceneID string) {
	events.Emit("info", "timeline.reset", "", map[string]any{"sceneId": sceneID})
	o.DirectorReset(sceneID)
}

func (o *Orchestrator) TimelineFinished(sceneID string, timings []timeline.BlockTiming) {
	var totalMs int64
	for _, t := range timings {
		totalMs += t.Elapsed.Milliseconds()
	}
	events.Emit("info", "timeline.finished", "", map[string]any{
		"sceneId": sceneID,
		"blocks":  len(timings),
		"totalMs": totalMs,
	})
	o.CompleteScene(sceneID, scene.StateSolved)
}

func (o *Orchestrator) TimelineError(sceneID string, err error) {
	events.Emit("error", "timeline.error", err.Error(), map[string]any{"sceneId": sceneID})
	o.scenes.SetState(sceneID, scene.StateError)
}

// cutscene.Sink

func (o *Orchestrator) CutsceneAction(sceneID string, index int, a scene.SequenceAction) {
	o.scenes.SetCurrentActionIndex(sceneID, index)
	events.Emit("info", "cutscene.action", "", map[string]any{
		"sceneId": sceneID,
		"index":   index,
		"action":  a.Action,
		"target":  a.Target,
	})

	sc := o.scenes.Get(sceneID)
	if sc == nil {
		return
	}

	if o.effects != nil {
		if err := o.effects.TriggerSequence(a.Action, map[string]any{
			"sceneId":  sceneID,
			"roomId":   sc.RoomID,
			"target":   a.Target,
			"duration": a.Duration,
			"params":   a.Params,
		}); err != nil {
			log.Printf("orchestrator: cutscene action %s failed on effects controller: %v", a.Action, err)
		}
		return
	}

	if err := o.publishDeviceCommand(a.Target, a.Action, a.Params); err != nil {
		log.Printf("orchestrator: cutscene action %s failed: %v", a.Action, err)
	}
}

func (o *Orchestrator) CutsceneCompleted(sceneID string) {
	events.Emit("info", "cutscene.completed", "", map[string]any{"sceneId": sceneID})
	o.CompleteScene(sceneID, scene.StateSolved)
}

// timer.Listener

func (o *Orchestrator) TimerExpired(id string) {
	events.Emit("warn", "timer.expired", "", map[string]any{"timerId": id})

	if sceneID, ok := strings.CutPrefix(id, "scene-"); ok {
		o.CompleteScene(sceneID, scene.StateTimeout)
	}
}
