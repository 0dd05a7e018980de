package scene

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type classifies a scene.
// - puzzle: interactive, player-driven challenge
// - cutscene: scripted, time-based sequence of effects
// - scene: timeline-based sequence (UI-friendly alias, treated as cutscene)
type Type string

const (
	TypePuzzle   Type = "puzzle"
	TypeCutscene Type = "cutscene"
	TypeScene    Type = "scene"
)

// State is the lifecycle state of a scene.
type State string

const (
	StateInactive   State = "inactive"
	StateActive     State = "active"
	StateSolved     State = "solved"
	StateFailed     State = "failed"
	StateTimeout    State = "timeout"
	StateError      State = "error"
	StateOverridden State = "overridden"
	StatePoweredOff State = "powered_off"
)

// IsCompleted reports whether the state is a terminal completion state.
func (s State) IsCompleted() bool {
	return s == StateSolved || s == StateOverridden
}

// IsTerminal reports whether the state is a valid completion outcome,
// successful or not.
func (s State) IsTerminal() bool {
	switch s {
	case StateSolved, StateFailed, StateTimeout, StateOverridden:
		return true
	}
	return false
}

// PowerState is the per-room power switch state.
type PowerState string

const (
	PowerOn           PowerState = "on"
	PowerOff          PowerState = "off"
	PowerEmergencyOff PowerState = "emergency_off"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpBetween      Operator = "between"
	OpIn           Operator = "in"
	OpAll          Operator = "all"
	OpAny          Operator = "any"
)

// Logic combines conditions within a group.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Condition compares one field of one cached sensor reading against an
// expected value.
type Condition struct {
	DeviceID   string   `json:"deviceId"`
	SensorName string   `json:"sensorName"`
	Field      string   `json:"field"`
	Operator   Operator `json:"operator"`
	Value      any      `json:"value"`
	Tolerance  *float64 `json:"tolerance,omitempty"`
}

// ConditionGroup is an ordered list of conditions with AND/OR logic.
type ConditionGroup struct {
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

// ConditionalAction is fired by watches, stages, or timeline blocks rather
// than by an absolute schedule.
type ConditionalAction struct {
	// Type is e.g. "mqtt.publish", "scene.complete", "scene.fail",
	// "puzzle.phase.advance".
	Type    string         `json:"type"`
	Target  string         `json:"target"`
	Payload map[string]any `json:"payload,omitempty"`
	DelayMs int64          `json:"delayMs,omitempty"`
}

// ActionGroup is a set of conditional actions with an optional shared delay.
type ActionGroup struct {
	Actions []ConditionalAction `json:"actions"`
	DelayMs int64               `json:"delayMs,omitempty"`
}

// SensorWatch continuously monitors a condition group and fires an action
// group when it is satisfied. Watches may monitor any device in the room,
// not just the owning puzzle's devices.
type SensorWatch struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Conditions  ConditionGroup `json:"conditions"`
	OnTrigger   ActionGroup    `json:"onTrigger"`
	// CooldownMs is the minimum time between triggers.
	CooldownMs int64 `json:"cooldownMs,omitempty"`
	// MaxTriggers disables the watch permanently once reached. Zero means
	// unlimited.
	MaxTriggers int  `json:"maxTriggers,omitempty"`
	TriggerOnce bool `json:"triggerOnce,omitempty"`
	// ActiveDuringPhases restricts the watch to specific puzzle stages.
	ActiveDuringPhases []string `json:"activeDuringPhases,omitempty"`
}

// Stage is one major stage of a multi-stage puzzle, with its own win
// conditions and optional time limit.
type Stage struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	WinConditions ConditionGroup `json:"winConditions"`
	TimeLimitMs   int64          `json:"timeLimitMs,omitempty"`
	OnComplete    *ActionGroup   `json:"onComplete,omitempty"`
	SensorWatches []SensorWatch  `json:"sensorWatches,omitempty"`
}

// LoopSpec marks a sequence action as repeating until explicitly stopped.
type LoopSpec struct {
	Mode       string `json:"mode"` // "loop"
	LoopID     string `json:"loopId"`
	IntervalMs int64  `json:"interval"`
}

// StopLoopAction is the command sentinel that cancels a running loop
// instead of executing.
const StopLoopAction = "loop.stop"

// SequenceAction is one action in a cutscene's flat sequence, scheduled at
// an absolute offset from sequence start.
type SequenceAction struct {
	// DelayMs is the absolute delay from sequence start.
	DelayMs int64 `json:"delayMs"`
	// Action is the command name (e.g. "fog.blast", "lights.off").
	Action string `json:"action"`
	// Target is the device or group the command is routed to.
	Target   string         `json:"target"`
	Duration int64          `json:"duration,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	// DelayAfterMs holds the action for UI feedback after executing.
	DelayAfterMs int64 `json:"delayAfterMs,omitempty"`
	// Execution, when set with mode "loop", re-fires the action on an
	// interval until stopped by its loop id.
	Execution *LoopSpec `json:"execution,omitempty"`
	// LoopID names the loop a "loop.stop" action cancels.
	LoopID string `json:"loopId,omitempty"`
}

// SafetyCheck must be verified against live device state before a scene
// activates.
type SafetyCheck struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	// DeviceID names the device to verify. A check without a device id is
	// treated as manually verified (see safety.Config.AllowManualChecks).
	DeviceID      string `json:"deviceId,omitempty"`
	ExpectedValue any    `json:"expectedValue,omitempty"`
}

// BlockType tags a timeline block.
type BlockType string

const (
	BlockState       BlockType = "state"
	BlockWatch       BlockType = "watch"
	BlockAction      BlockType = "action"
	BlockAudio       BlockType = "audio"
	BlockCheck       BlockType = "check"
	BlockSetVariable BlockType = "set_variable"
	BlockSolve       BlockType = "solve"
	BlockFail        BlockType = "fail"
	BlockReset       BlockType = "reset"
)

// TimelineAction is the device command payload of an action block.
type TimelineAction struct {
	Type    string         `json:"type"`
	Target  string         `json:"target"`
	Payload map[string]any `json:"payload,omitempty"`
	DelayMs int64          `json:"delayMs,omitempty"`
}

// Block is one instruction in a puzzle timeline. Blocks execute in index
// order unless a check block redirects via OnTrue/OnFalse.
type Block struct {
	ID          string    `json:"id"`
	Type        BlockType `json:"type"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`

	// state
	Children []Block `json:"childBlocks,omitempty"`

	// watch
	WatchConditions *ConditionGroup `json:"watchConditions,omitempty"`

	// action
	Action *TimelineAction `json:"action,omitempty"`

	// audio
	AudioCue    string `json:"audioCue,omitempty"`
	AudioDevice string `json:"audioDevice,omitempty"`

	// check
	CheckConditions *ConditionGroup `json:"checkConditions,omitempty"`
	OnTrue          string          `json:"onTrue,omitempty"`
	OnFalse         string          `json:"onFalse,omitempty"`

	// set_variable
	VariableName   string `json:"variableName,omitempty"`
	VariableValue  any    `json:"variableValue,omitempty"`
	VariableSource string `json:"variableSource,omitempty"`
}

// Config is the authored definition of a scene.
type Config struct {
	ID          string `json:"id"`
	Type        Type   `json:"type"`
	Name        string `json:"name"`
	RoomID      string `json:"roomId"`
	Description string `json:"description,omitempty"`

	// Prerequisites must all be solved or overridden before this scene can
	// activate. Blocks lists scenes this one blocks while active.
	Prerequisites []string `json:"prerequisites,omitempty"`
	Blocks        []string `json:"blocks,omitempty"`
	Devices       []string `json:"devices,omitempty"`

	TimeLimitMs int64    `json:"timeLimitMs,omitempty"`
	Outputs     []string `json:"outputs,omitempty"`

	// Sequence is the cutscene action list (absolute offsets).
	Sequence []SequenceAction `json:"sequence,omitempty"`

	SafetyChecks []SafetyCheck `json:"safetyChecks,omitempty"`

	// Puzzle authoring surface. Exactly one of Timeline, Stages, or
	// WinConditions drives a puzzle; ResolveProgram picks the variant once
	// at load time.
	WinConditions *ConditionGroup `json:"winConditions,omitempty"`
	Stages        []Stage         `json:"states,omitempty"`
	Timeline      []Block         `json:"timeline,omitempty"`
	SensorWatches []SensorWatch   `json:"sensorWatches,omitempty"`

	OnStart *ActionGroup `json:"onStart,omitempty"`
	OnSolve *ActionGroup `json:"onSolve,omitempty"`
	OnFail  *ActionGroup `json:"onFail,omitempty"`
	OnReset *ActionGroup `json:"onReset,omitempty"`
}

// UnmarshalJSON normalizes the authoring shorthand where a cutscene or
// scene carries its actions under "timeline" instead of "sequence". Those
// entries are sequence-shaped, so they decode straight into the flat
// form; puzzles keep "timeline" as a block program.
func (c *Config) UnmarshalJSON(data []byte) error {
	type config Config
	aux := struct {
		*config
		Timeline json.RawMessage `json:"timeline,omitempty"`
	}{config: (*config)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Timeline) == 0 {
		return nil
	}

	if c.Type == TypeCutscene || c.Type == TypeScene {
		if len(c.Sequence) > 0 {
			return nil
		}
		if err := json.Unmarshal(aux.Timeline, &c.Sequence); err != nil {
			return fmt.Errorf("scene %s timeline: %w", c.ID, err)
		}
		return nil
	}
	if err := json.Unmarshal(aux.Timeline, &c.Timeline); err != nil {
		return fmt.Errorf("scene %s timeline: %w", c.ID, err)
	}
	return nil
}

// Runtime is the mutable overlay on a scene config. It is created at
// registration and mutated only through the registry.
type Runtime struct {
	Config

	// Program is the resolved puzzle program variant (nil for cutscenes).
	Program Program

	State       State
	Attempts    int
	LastUpdated time.Time
	TimeStarted time.Time
	// TimeCompleted is only stamped on transitions out of active.
	TimeCompleted time.Time

	// CurrentActionIndex tracks cutscene progress (-1 when idle).
	CurrentActionIndex int
}

// CommandRouting is the resolved destination for a device command, produced
// by the authoritative device_commands lookup. Absence of a mapping is a
// hard stop for publishing.
type CommandRouting struct {
	Client          string
	Room            string
	Controller      string
	Device          string
	SpecificCommand string
}

// Topic builds the command topic for this routing.
func (r CommandRouting) Topic() string {
	return r.Client + "/" + r.Room + "/commands/" + r.Controller + "/" + r.Device + "/" + r.SpecificCommand
}
