// Package orchestrator coordinates the scene engine: it starts and
// completes scenes, routes watch and timeline outcomes back into scene
// state, applies director controls, and owns the fail-closed device
// command path.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/AaronLay10/SentientDirector/internal/action"
	"github.com/AaronLay10/SentientDirector/internal/condition"
	"github.com/AaronLay10/SentientDirector/internal/cutscene"
	"github.com/AaronLay10/SentientDirector/internal/events"
	"github.com/AaronLay10/SentientDirector/internal/safety"
	"github.com/AaronLay10/SentientDirector/internal/scene"
	"github.com/AaronLay10/SentientDirector/internal/stage"
	"github.com/AaronLay10/SentientDirector/internal/timeline"
	"github.com/AaronLay10/SentientDirector/internal/timer"
	"github.com/AaronLay10/SentientDirector/internal/watch"
)

// RoutingLookup resolves device command routing from the authoritative
// device_commands store. A (nil, nil) return means no mapping exists.
type RoutingLookup interface {
	GetDeviceCommandRouting(deviceNameOrID, commandName string) (*scene.CommandRouting, error)
}

// Publisher sends raw payloads to MQTT topics.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// DeviceStateFetcher queries live device state from the device monitor
// service, used when no state has been reported over MQTT yet.
type DeviceStateFetcher interface {
	DeviceState(ctx context.Context, deviceID string) (map[string]any, error)
}

// EffectsClient triggers named effect sequences on the external effects
// controller. When configured it takes precedence over direct MQTT
// publishing for cutscene actions.
type EffectsClient interface {
	TriggerSequence(name string, ctx map[string]any) error
}

// Result reports a director or scene operation outcome.
type Result struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Config tunes the orchestrator's components.
type Config struct {
	WatchPollInterval    time.Duration
	TimelinePollInterval time.Duration
	TimerResolution      time.Duration
	StrictJumps          bool
	Safety               safety.Config
}

// Orchestrator wires every component together and implements all of
// their listener interfaces.
type Orchestrator struct {
	scenes    *scene.Registry
	eval      *condition.Evaluator
	watches   *watch.Monitor
	actions   *action.Executor
	stages    *stage.Manager
	timelines *timeline.Interpreter
	cutscenes *cutscene.Executor
	timers    *timer.Manager
	verifier  *safety.Verifier

	routing RoutingLookup
	pub     Publisher
	effects EffectsClient
	monitor DeviceStateFetcher

	mu           sync.Mutex
	roomPower    map[string]scene.PowerState
	deviceStates map[string]map[string]map[string]any
}

// New builds the orchestrator and its component graph. routing, pub, and
// effects may be nil; the affected paths then refuse to act rather than
// guess.
func New(scenes *scene.Registry, routing RoutingLookup, pub Publisher, effects EffectsClient, cfg Config) *Orchestrator {
	o := &Orchestrator{
		scenes:       scenes,
		eval:         condition.NewEvaluator(),
		routing:      routing,
		pub:          pub,
		effects:      effects,
		roomPower:    make(map[string]scene.PowerState),
		deviceStates: make(map[string]map[string]map[string]any),
	}

	o.watches = watch.NewMonitor(o.eval, o, cfg.WatchPollInterval)
	o.actions = action.NewExecutor(o, o)
	o.stages = stage.NewManager(o.eval, o.watches, o, cfg.WatchPollInterval)
	o.timelines = timeline.NewInterpreter(o.eval, o, timeline.Config{
		PollInterval: cfg.TimelinePollInterval,
		StrictJumps:  cfg.StrictJumps,
	})
	o.cutscenes = cutscene.NewExecutor(o)
	o.timers = timer.NewManager(o, cfg.TimerResolution)
	o.verifier = safety.NewVerifier(o, cfg.Safety)

	scenes.SetListener(o)
	return o
}

// Run starts the background loops.
func (o *Orchestrator) Run() {
	o.watches.Start()
	o.stages.Start()
	o.timers.Run()
}

// Shutdown stops every background loop and cancels pending work.
func (o *Orchestrator) Shutdown() {
	o.watches.Stop()
	o.stages.Stop()
	o.timers.Shutdown()
	o.timelines.StopAll()
	o.actions.CancelAll()
	o.cutscenes.CleanupAllLoops()
	o.watches.Wait()
	o.stages.Wait()
	o.timers.Wait()
}

// Evaluator exposes the condition cache for API queries.
func (o *Orchestrator) Evaluator() *condition.Evaluator { return o.eval }

// Scenes exposes the registry for API queries.
func (o *Orchestrator) Scenes() *scene.Registry { return o.scenes }

// StartScene activates a scene after power, prerequisite, and safety
// gates. skipSafety is reserved for director jumps.
func (o *Orchestrator) StartScene(sceneID string, skipSafety bool) Result {
	sc := o.scenes.Get(sceneID)
	if sc == nil {
		return Result{Success: false, Reason: "Scene not found"}
	}

	if power := o.RoomPower(sc.RoomID); power != scene.PowerOn {
		return o.blockStart(sceneID, fmt.Sprintf("Room is powered %s", power))
	}

	if ok, reason := o.scenes.CanActivate(sceneID); !ok {
		return o.blockStart(sceneID, reason)
	}

	if !skipSafety && len(sc.SafetyChecks) > 0 {
		passed, results := o.verifier.VerifyAll(toSafetyChecks(sc.SafetyChecks))
		if !passed {
			details := failedCheckDetails(results)
			events.Emit("error", "safety.failed", "scene start blocked", map[string]any{
				"sceneId": sceneID,
				"checks":  details,
			})
			return o.blockStart(sceneID, "Safety checks failed: "+details)
		}
		events.Emit("info", "safety.passed", "", map[string]any{"sceneId": sceneID})
	}

	o.scenes.SetState(sceneID, scene.StateActive)
	o.scenes.RecordAttempt(sceneID)

	switch sc.Type {
	case scene.TypePuzzle:
		if err := o.startPuzzle(sc); err != nil {
			o.scenes.SetState(sceneID, scene.StateError)
			return Result{Success: false, Reason: err.Error()}
		}
	case scene.TypeCutscene, scene.TypeScene:
		if err := o.cutscenes.Start(sceneID, sc.Sequence); err != nil {
			o.scenes.SetState(sceneID, scene.StateError)
			return Result{Success: false, Reason: err.Error()}
		}
	}

	if sc.TimeLimitMs > 0 && sc.Type == scene.TypePuzzle {
		o.timers.Start("scene-"+sceneID, time.Duration(sc.TimeLimitMs)*time.Millisecond)
		events.Emit("info", "timer.started", "", map[string]any{
			"sceneId": sceneID,
			"limitMs": sc.TimeLimitMs,
		})
	}

	log.Printf("orchestrator: scene %s (%s) started", sceneID, sc.Type)
	return Result{Success: true}
}

func (o *Orchestrator) blockStart(sceneID, reason string) Result {
	events.Emit("warn", "scene.blocked", reason, map[string]any{"sceneId": sceneID})
	return Result{Success: false, Reason: reason}
}

func (o *Orchestrator) startPuzzle(sc *scene.Runtime) error {
	switch p := sc.Program.(type) {
	case scene.TimelineProgram:
		if err := o.timelines.Start(sc.ID, p.Blocks); err != nil {
			return err
		}
	case scene.StagedProgram, scene.LegacyProgram:
		stages := scene.PuzzleStages(sc.Program)
		if err := o.stages.Initialize(sc.ID, stages); err != nil {
			return err
		}
		for _, w := range sc.SensorWatches {
			o.watches.Register(w, sc.ID, "")
		}
		o.runActionGroup(sc, sc.OnStart, "onStart")
	default:
		return fmt.Errorf("puzzle %s has no program", sc.ID)
	}
	return nil
}

// CompleteScene moves a scene to a terminal state and tears down its
// runtime. Outcome-specific action groups fire for puzzles.
func (o *Orchestrator) CompleteScene(sceneID string, state scene.State) Result {
	sc := o.scenes.SetState(sceneID, state)
	if sc == nil {
		return Result{Success: false, Reason: "Scene not found"}
	}

	if o.timers.Stop("scene-" + sceneID) {
		events.Emit("info", "timer.cancelled", "", map[string]any{"sceneId": sceneID})
	}

	switch sc.Type {
	case scene.TypeCutscene, scene.TypeScene:
		o.cutscenes.Stop(sceneID)
		for _, id := range o.cutscenes.CleanupLoops(sceneID) {
			events.Emit("info", "loop.stopped", "", map[string]any{
				"sceneId": sceneID,
				"loopId":  id,
			})
		}

	case scene.TypePuzzle:
		o.timelines.Stop(sceneID)
		// Cleanup first so pending watch-triggered actions die before the
		// outcome groups schedule theirs.
		o.cleanupPuzzle(sceneID)
		if state == scene.StateSolved || state == scene.StateOverridden {
			o.runActionGroup(sc, sc.OnSolve, "onSolve")
		}
		if state == scene.StateFailed || state == scene.StateTimeout {
			o.runActionGroup(sc, sc.OnFail, "onFail")
		}
		o.triggerOutputs(sc)
	}

	log.Printf("orchestrator: scene %s completed as %s", sceneID, state)
	return Result{Success: true}
}

func (o *Orchestrator) cleanupPuzzle(sceneID string) {
	o.watches.UnregisterScene(sceneID)
	o.stages.Teardown(sceneID)
	o.actions.CancelScene(sceneID)
}

// triggerOutputs fires legacy output sequences on the effects controller.
func (o *Orchestrator) triggerOutputs(sc *scene.Runtime) {
	if o.effects == nil || len(sc.Outputs) == 0 {
		return
	}
	for _, seq := range sc.Outputs {
		if err := o.effects.TriggerSequence(seq, map[string]any{
			"sceneId": sc.ID,
			"roomId":  sc.RoomID,
		}); err != nil {
			log.Printf("orchestrator: output sequence %s failed: %v", seq, err)
		}
	}
}

func (o *Orchestrator) runActionGroup(sc *scene.Runtime, g *scene.ActionGroup, triggeredBy string) {
	if g == nil || len(g.Actions) == 0 {
		return
	}
	o.actions.ExecuteGroup(*g, action.Context{
		SceneID:     sc.ID,
		RoomID:      sc.RoomID,
		TriggeredBy: triggeredBy,
	})
}

// RoomPower reports a room's power state, defaulting to on.
func (o *Orchestrator) RoomPower(roomID string) scene.PowerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.roomPower[roomID]; ok {
		return p
	}
	return scene.PowerOn
}

// HandleSensorUpdate feeds a decoded sensor message into the condition
// cache and re-checks active stages. Watches and timeline blocks pick
// the change up on their next poll.
func (o *Orchestrator) HandleSensorUpdate(deviceID, sensorName string, payload map[string]any) {
	events.Emit("debug", "device.input", "", map[string]any{
		"deviceId": deviceID,
		"sensor":   sensorName,
	})
	o.eval.UpdateSensorData(deviceID, sensorName, payload)

	// Re-check stage completion immediately instead of waiting for the
	// next poll, so solves land on the tick of the sensor that caused them.
	o.stages.Tick()
}

// HandleDeviceState caches reported device state for safety checks.
func (o *Orchestrator) HandleDeviceState(deviceID, stateName string, payload map[string]any) {
	o.mu.Lock()
	device, ok := o.deviceStates[deviceID]
	if !ok {
		device = make(map[string]map[string]any)
		o.deviceStates[deviceID] = device
	}
	device[stateName] = payload
	o.mu.Unlock()
}

// SetDeviceMonitor wires the device monitor client for safety-check
// state queries when MQTT has not reported state yet.
func (o *Orchestrator) SetDeviceMonitor(m DeviceStateFetcher) {
	o.mu.Lock()
	o.monitor = m
	o.mu.Unlock()
}

// DeviceState satisfies safety.DeviceStateClient from the local cache of
// reported state messages, falling back to the device monitor service.
// All state topics for a device are merged.
func (o *Orchestrator) DeviceState(deviceID string) (map[string]any, error) {
	o.mu.Lock()
	device, ok := o.deviceStates[deviceID]
	monitor := o.monitor
	if ok && len(device) > 0 {
		merged := make(map[string]any)
		for _, payload := range device {
			for k, v := range payload {
				merged[k] = v
			}
		}
		o.mu.Unlock()
		return merged, nil
	}
	o.mu.Unlock()

	if monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return monitor.DeviceState(ctx, deviceID)
	}
	return nil, fmt.Errorf("no reported state for device %s", deviceID)
}

// publishDeviceCommand is the only path that writes command topics. It
// refuses to publish without an authoritative routing row, preventing
// topic drift.
func (o *Orchestrator) publishDeviceCommand(device, command string, params map[string]any) error {
	if o.routing == nil {
		events.Emit("error", "device.error", "routing store unavailable", map[string]any{
			"device":  device,
			"command": command,
		})
		return fmt.Errorf("routing store unavailable; refusing to publish")
	}
	if o.pub == nil {
		events.Emit("error", "device.error", "mqtt unavailable", map[string]any{
			"device":  device,
			"command": command,
		})
		return fmt.Errorf("mqtt unavailable; refusing to publish")
	}

	routing, err := o.routing.GetDeviceCommandRouting(device, command)
	if err != nil {
		events.Emit("error", "device.error", "routing lookup failed", map[string]any{
			"device":  device,
			"command": command,
			"error":   err.Error(),
		})
		return fmt.Errorf("routing lookup for %s/%s failed: %w", device, command, err)
	}
	if routing == nil {
		events.Emit("error", "device.error", "no device_commands mapping", map[string]any{
			"device":  device,
			"command": command,
		})
		return fmt.Errorf("no device_commands mapping for %s/%s; refusing to publish", device, command)
	}

	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(map[string]any{
		"params":    params,
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal command payload: %w", err)
	}

	topic := routing.Topic()
	if err := o.pub.Publish(topic, payload); err != nil {
		events.Emit("error", "device.error", "publish failed", map[string]any{
			"topic": topic,
			"error": err.Error(),
		})
		return err
	}

	events.Emit("info", "device.command", "", map[string]any{
		"topic":   topic,
		"device":  device,
		"command": routing.SpecificCommand,
	})
	return nil
}

func toSafetyChecks(checks []scene.SafetyCheck) []safety.Check {
	out := make([]safety.Check, len(checks))
	for i, c := range checks {
		out[i] = safety.Check{
			ID:            c.ID,
			Description:   c.Description,
			DeviceID:      c.DeviceID,
			ExpectedValue: c.ExpectedValue,
		}
	}
	return out
}

func failedCheckDetails(results []safety.Result) string {
	var parts []string
	for _, r := range results {
		if !r.Passed {
			parts = append(parts, r.CheckID+": "+r.Reason)
		}
	}
	return strings.Join(parts, ", ")
}
