package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SentientDirector/internal/scene"
)

type fakeRouting struct {
	mu   sync.Mutex
	rows map[string]*scene.CommandRouting // keyed device/command
	err  error
}

func (f *fakeRouting) GetDeviceCommandRouting(device, command string) (*scene.CommandRouting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[device+"/"+command], nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	f.topics = append(f.topics, topic)
	f.bodies = append(f.bodies, payload)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) IsConnected() bool { return true }

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...)
}

func bellRouting() *fakeRouting {
	return &fakeRouting{rows: map[string]*scene.CommandRouting{
		"Bell/ring": {
			Client:          "paragon",
			Room:            "vault-room",
			Controller:      "controller-1",
			Device:          "bell",
			SpecificCommand: "ring",
		},
	}}
}

func testConfig() Config {
	return Config{
		WatchPollInterval:    10 * time.Millisecond,
		TimelinePollInterval: 10 * time.Millisecond,
		TimerResolution:      10 * time.Millisecond,
	}
}

// holdSequence keeps a cutscene active long enough for tests to poke it.
func holdSequence() []scene.SequenceAction {
	return []scene.SequenceAction{{DelayMs: 60000, Action: "lights.off", Target: "room"}}
}

func TestDeviceCommandFailsClosed(t *testing.T) {
	reg := scene.NewRegistry()

	// No routing store at all.
	o := New(reg, nil, &fakePublisher{}, nil, testConfig())
	res := o.DirectorDeviceCommand("Bell", "ring", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "routing store unavailable")

	// No publisher.
	o = New(reg, bellRouting(), nil, nil, testConfig())
	res = o.DirectorDeviceCommand("Bell", "ring", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "mqtt unavailable")

	// No device_commands row for the command.
	pub := &fakePublisher{}
	o = New(reg, bellRouting(), pub, nil, testConfig())
	res = o.DirectorDeviceCommand("Bell", "chime", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "no device_commands mapping")

	// Routing lookup errors.
	o = New(reg, &fakeRouting{err: fmt.Errorf("db down")}, pub, nil, testConfig())
	res = o.DirectorDeviceCommand("Bell", "ring", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "routing lookup")

	assert.Empty(t, pub.published(), "nothing may reach the broker without a routing row")
}

func TestDeviceCommandPublishesRoutedTopic(t *testing.T) {
	pub := &fakePublisher{}
	o := New(scene.NewRegistry(), bellRouting(), pub, nil, testConfig())

	res := o.DirectorDeviceCommand("Bell", "ring", map[string]any{"volume": 7})
	require.True(t, res.Success, res.Reason)
	require.Equal(t, []string{"paragon/vault-room/commands/controller-1/bell/ring"}, pub.published())

	var body map[string]any
	require.NoError(t, json.Unmarshal(pub.bodies[0], &body))
	params, _ := body["params"].(map[string]any)
	assert.Equal(t, 7.0, params["volume"])
	assert.NotNil(t, body["timestamp"])
}

func TestStartSceneGates(t *testing.T) {
	reg := scene.NewRegistry()
	reg.RegisterMany([]scene.Config{
		{ID: "intro", Type: scene.TypeCutscene, Name: "Intro", RoomID: "vault-room", Sequence: holdSequence()},
		{ID: "vault", Type: scene.TypeCutscene, Name: "Vault", RoomID: "vault-room", Prerequisites: []string{"intro"}, Sequence: holdSequence()},
	})
	o := New(reg, nil, nil, nil, testConfig())

	res := o.StartScene("nope", false)
	assert.Equal(t, "Scene not found", res.Reason)

	res = o.StartScene("vault", false)
	assert.False(t, res.Success)
	assert.Equal(t, "Prerequisites not met: intro", res.Reason)

	o.SetRoomPower("vault-room", scene.PowerOff)
	res = o.StartScene("intro", false)
	assert.False(t, res.Success)
	assert.Equal(t, "Room is powered off", res.Reason)

	o.SetRoomPower("vault-room", scene.PowerOn)
	res = o.StartScene("intro", false)
	assert.True(t, res.Success, res.Reason)
	assert.Equal(t, scene.StateActive, reg.Get("intro").State)
}

func TestStartSceneSafetyGate(t *testing.T) {
	reg := scene.NewRegistry()
	reg.Register(scene.Config{
		ID: "finale", Type: scene.TypeCutscene, Name: "Finale", RoomID: "vault-room",
		Sequence: holdSequence(),
		SafetyChecks: []scene.SafetyCheck{
			{ID: "maglock-released", DeviceID: "maglock-1", ExpectedValue: map[string]any{"engaged": false}},
		},
	})
	o := New(reg, nil, nil, nil, testConfig())

	res := o.StartScene("finale", false)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "Safety checks failed")
	assert.Contains(t, res.Reason, "maglock-released")
	assert.Equal(t, scene.StateInactive, reg.Get("finale").State)

	// Reported state unblocks the scene.
	o.HandleDeviceState("maglock-1", "reported", map[string]any{"engaged": false})
	res = o.StartScene("finale", false)
	assert.True(t, res.Success, res.Reason)

	// Director jumps bypass the gate entirely.
	o.CompleteScene("finale", scene.StateSolved)
	reg.Reset("finale")
	o.HandleDeviceState("maglock-1", "reported", map[string]any{"engaged": true})
	res = o.StartScene("finale", false)
	assert.False(t, res.Success)
	res = o.StartScene("finale", true)
	assert.True(t, res.Success, res.Reason)
}

func TestLegacyPuzzleSolvesThroughSensors(t *testing.T) {
	reg := scene.NewRegistry()
	reg.Register(scene.Config{
		ID: "gears", Type: scene.TypePuzzle, Name: "Gear Box", RoomID: "vault-room",
		WinConditions: &scene.ConditionGroup{
			Logic: scene.LogicAnd,
			Conditions: []scene.Condition{
				{DeviceID: "gearbox", SensorName: "alignment", Field: "value", Operator: scene.OpEqual, Value: "aligned"},
			},
		},
		OnSolve: &scene.ActionGroup{Actions: []scene.ConditionalAction{
			{Type: "mqtt.publish", Target: "Bell", Payload: map[string]any{"command": "ring"}},
		}},
	})
	pub := &fakePublisher{}
	o := New(reg, bellRouting(), pub, nil, testConfig())
	o.Run()
	defer o.Shutdown()

	res := o.StartScene("gears", false)
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, 1, reg.Get("gears").Attempts)

	o.HandleSensorUpdate("gearbox", "alignment", map[string]any{"value": "aligned"})

	require.Eventually(t, func() bool {
		return reg.Get("gears").State == scene.StateSolved
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(pub.published()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "paragon/vault-room/commands/controller-1/bell/ring", pub.published()[0])
}

func TestCompleteSceneCancelsDelayedWatchActions(t *testing.T) {
	reg := scene.NewRegistry()
	reg.Register(scene.Config{
		ID: "gears", Type: scene.TypePuzzle, Name: "Gear Box", RoomID: "vault-room",
		WinConditions: &scene.ConditionGroup{
			Conditions: []scene.Condition{
				{DeviceID: "gearbox", SensorName: "alignment", Field: "value", Operator: scene.OpEqual, Value: "aligned"},
			},
		},
		SensorWatches: []scene.SensorWatch{{
			ID: "tamper", Name: "Tamper",
			Conditions: scene.ConditionGroup{Conditions: []scene.Condition{
				{DeviceID: "gearbox", SensorName: "tamper", Field: "value", Operator: scene.OpEqual, Value: "open"},
			}},
			OnTrigger: scene.ActionGroup{Actions: []scene.ConditionalAction{
				{Type: "mqtt.publish", Target: "Bell", DelayMs: 300, Payload: map[string]any{"command": "ring"}},
			}},
		}},
	})
	pub := &fakePublisher{}
	o := New(reg, bellRouting(), pub, nil, testConfig())
	o.Run()
	defer o.Shutdown()

	require.True(t, o.StartScene("gears", false).Success)

	o.HandleSensorUpdate("gearbox", "tamper", map[string]any{"value": "open"})
	require.Eventually(t, func() bool {
		return o.actions.PendingCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "tripped watch must schedule its delayed action")

	require.True(t, o.CompleteScene("gears", scene.StateSolved).Success)
	assert.Zero(t, o.actions.PendingCount())

	time.Sleep(500 * time.Millisecond)
	assert.Empty(t, pub.published(), "completion must cancel the scene's pending actions")
}

func TestCompleteSceneKeepsDelayedSolveActions(t *testing.T) {
	reg := scene.NewRegistry()
	reg.Register(scene.Config{
		ID: "gears", Type: scene.TypePuzzle, Name: "Gear Box", RoomID: "vault-room",
		WinConditions: &scene.ConditionGroup{
			Conditions: []scene.Condition{
				{DeviceID: "gearbox", SensorName: "alignment", Field: "value", Operator: scene.OpEqual, Value: "aligned"},
			},
		},
		OnSolve: &scene.ActionGroup{Actions: []scene.ConditionalAction{
			{Type: "mqtt.publish", Target: "Bell", DelayMs: 30, Payload: map[string]any{"command": "ring"}},
		}},
	})
	pub := &fakePublisher{}
	o := New(reg, bellRouting(), pub, nil, testConfig())

	require.True(t, o.StartScene("gears", false).Success)
	require.True(t, o.CompleteScene("gears", scene.StateSolved).Success)

	require.Eventually(t, func() bool {
		return len(pub.published()) == 1
	}, 2*time.Second, 10*time.Millisecond, "delayed solve actions outlive puzzle cleanup")
	assert.Equal(t, "paragon/vault-room/commands/controller-1/bell/ring", pub.published()[0])
}

func TestPuzzleTimesOut(t *testing.T) {
	reg := scene.NewRegistry()
	reg.Register(scene.Config{
		ID: "gears", Type: scene.TypePuzzle, Name: "Gear Box", RoomID: "vault-room",
		TimeLimitMs: 30,
		WinConditions: &scene.ConditionGroup{
			Conditions: []scene.Condition{
				{DeviceID: "gearbox", SensorName: "alignment", Field: "value", Operator: scene.OpEqual, Value: "aligned"},
			},
		},
	})
	o := New(reg, nil, nil, nil, testConfig())
	o.Run()
	defer o.Shutdown()

	require.True(t, o.StartScene("gears", false).Success)
	require.Eventually(t, func() bool {
		return reg.Get("gears").State == scene.StateTimeout
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDirectorPauseAndResume(t *testing.T) {
	reg := scene.NewRegistry()
	reg.Register(scene.Config{
		ID: "gears", Type: scene.TypePuzzle, Name: "Gear Box", RoomID: "vault-room",
		TimeLimitMs: 600000,
		WinConditions: &scene.ConditionGroup{
			Conditions: []scene.Condition{
				{DeviceID: "gearbox", SensorName: "alignment", Field: "value", Operator: scene.OpEqual, Value: "aligned"},
			},
		},
	})
	o := New(reg, nil, nil, nil, testConfig())

	assert.False(t, o.DirectorPause("gears").Success, "inactive scene cannot pause")

	require.True(t, o.StartScene("gears", false).Success)
	assert.True(t, o.DirectorPause("gears").Success)
	assert.True(t, o.DirectorResume("gears").Success)
	assert.False(t, o.DirectorResume("missing").Success)
}

func TestCutsceneCannotPause(t *testing.T) {
	reg := scene.NewRegistry()
	reg.Register(scene.Config{
		ID: "intro", Type: scene.TypeCutscene, Name: "Intro", RoomID: "vault-room",
		Sequence: holdSequence(),
	})
	o := New(reg, nil, nil, nil, testConfig())

	require.True(t, o.StartScene("intro", false).Success)
	res := o.DirectorPause("intro")
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "cannot be paused")
}

func TestDirectorSkipReportsNextScenes(t *testing.T) {
	reg := scene.NewRegistry()
	reg.RegisterMany([]scene.Config{
		{ID: "intro", Type: scene.TypeCutscene, Name: "Intro", RoomID: "vault-room", Sequence: holdSequence()},
		{ID: "vault", Type: scene.TypeCutscene, Name: "Vault", RoomID: "vault-room", Prerequisites: []string{"intro"}, Sequence: holdSequence()},
	})
	o := New(reg, nil, nil, nil, testConfig())

	res, next := o.DirectorSkip("intro")
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, scene.StateOverridden, reg.Get("intro").State)
	assert.Contains(t, next, "vault")
}

func TestRoomPowerParksActiveScenes(t *testing.T) {
	reg := scene.NewRegistry()
	reg.RegisterMany([]scene.Config{
		{ID: "intro", Type: scene.TypeCutscene, Name: "Intro", RoomID: "vault-room", Sequence: holdSequence()},
		{ID: "lobby", Type: scene.TypeCutscene, Name: "Lobby", RoomID: "vault-room", Sequence: holdSequence()},
	})
	o := New(reg, nil, nil, nil, testConfig())

	require.True(t, o.StartScene("intro", false).Success)

	o.SetRoomPower("vault-room", scene.PowerEmergencyOff)
	assert.Equal(t, scene.StatePoweredOff, reg.Get("intro").State)
	assert.Equal(t, scene.StateInactive, reg.Get("lobby").State, "idle scenes stay inactive")
	assert.False(t, o.StartScene("lobby", false).Success)

	o.SetRoomPower("vault-room", scene.PowerOn)
	assert.Equal(t, scene.StateInactive, reg.Get("intro").State)
	assert.True(t, o.StartScene("lobby", false).Success)
}

func TestJumpToSceneOverridesPrerequisites(t *testing.T) {
	reg := scene.NewRegistry()
	reg.RegisterMany([]scene.Config{
		{ID: "intro", Type: scene.TypeCutscene, Name: "Intro", RoomID: "vault-room", Sequence: holdSequence()},
		{ID: "finale", Type: scene.TypeCutscene, Name: "Finale", RoomID: "vault-room",
			Prerequisites: []string{"intro"},
			Sequence:      holdSequence(),
			SafetyChecks: []scene.SafetyCheck{
				{ID: "maglock", DeviceID: "maglock-1"},
			}},
	})
	o := New(reg, nil, nil, nil, testConfig())

	require.True(t, o.StartScene("intro", false).Success)

	res := o.JumpToScene("vault-room", "finale")
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, scene.StateOverridden, reg.Get("intro").State)
	assert.Equal(t, scene.StateActive, reg.Get("finale").State)

	res = o.JumpToScene("other-room", "finale")
	assert.False(t, res.Success)
}

func TestDirectorResetReturnsSceneToInactive(t *testing.T) {
	reg := scene.NewRegistry()
	reg.Register(scene.Config{
		ID: "gears", Type: scene.TypePuzzle, Name: "Gear Box", RoomID: "vault-room",
		WinConditions: &scene.ConditionGroup{
			Conditions: []scene.Condition{
				{DeviceID: "gearbox", SensorName: "alignment", Field: "value", Operator: scene.OpEqual, Value: "aligned"},
			},
		},
	})
	o := New(reg, nil, nil, nil, testConfig())

	require.True(t, o.StartScene("gears", false).Success)
	require.True(t, o.DirectorReset("gears").Success)
	sc := reg.Get("gears")
	assert.Equal(t, scene.StateInactive, sc.State)
	assert.Zero(t, sc.Attempts)

	assert.False(t, o.DirectorReset("missing").Success)
}

func TestDeviceStateMergesReportedTopics(t *testing.T) {
	o := New(scene.NewRegistry(), nil, nil, nil, testConfig())

	_, err := o.DeviceState("maglock-1")
	assert.Error(t, err, "no cache and no monitor fails closed")

	o.HandleDeviceState("maglock-1", "power", map[string]any{"volts": 12.0})
	o.HandleDeviceState("maglock-1", "lock", map[string]any{"engaged": true})

	state, err := o.DeviceState("maglock-1")
	require.NoError(t, err)
	assert.Equal(t, 12.0, state["volts"])
	assert.Equal(t, true, state["engaged"])
}
