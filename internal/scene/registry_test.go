package scene

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfigs() []Config {
	return []Config{
		{
			ID:     "intro",
			Type:   TypeCutscene,
			Name:   "Intro",
			RoomID: "clockwork",
			Sequence: []SequenceAction{
				{Action: "lights.dim", Target: "MainLights"},
			},
		},
		{
			ID:            "gears",
			Type:          TypePuzzle,
			Name:          "Gear Alignment",
			RoomID:        "clockwork",
			Devices:       []string{"GearPanel"},
			Prerequisites: []string{"intro"},
			WinConditions: &ConditionGroup{
				Logic: LogicAnd,
				Conditions: []Condition{
					{DeviceID: "GearPanel", SensorName: "Hall", Field: "aligned", Operator: OpEqual, Value: true},
				},
			},
		},
		{
			ID:            "vault",
			Type:          TypePuzzle,
			Name:          "Vault Lock",
			RoomID:        "clockwork",
			Devices:       []string{"VaultDoor"},
			Prerequisites: []string{"gears"},
			Blocks:        []string{"gears"},
			WinConditions: &ConditionGroup{
				Logic: LogicAnd,
				Conditions: []Condition{
					{DeviceID: "VaultDoor", SensorName: "Lock", Field: "open", Operator: OpEqual, Value: true},
				},
			},
		},
	}
}

func TestRegisterInitialState(t *testing.T) {
	r := NewRegistry()
	r.RegisterMany(testConfigs())

	sc := r.Get("gears")
	require.NotNil(t, sc)
	assert.Equal(t, StateInactive, sc.State)
	assert.Equal(t, 0, sc.Attempts)
	assert.Equal(t, -1, sc.CurrentActionIndex)
	assert.True(t, sc.TimeStarted.IsZero())

	assert.Nil(t, r.Get("missing"))
}

func TestSetStateStampsTimes(t *testing.T) {
	r := NewRegistry()
	r.RegisterMany(testConfigs())

	sc := r.SetState("gears", StateActive)
	require.NotNil(t, sc)
	assert.False(t, sc.TimeStarted.IsZero(), "entering active stamps timeStarted")
	assert.True(t, sc.TimeCompleted.IsZero())

	sc = r.SetState("gears", StateSolved)
	require.NotNil(t, sc)
	assert.False(t, sc.TimeCompleted.IsZero(), "active to solved stamps timeCompleted")
}

func TestSetStateCompletionOnlyFromActive(t *testing.T) {
	r := NewRegistry()
	r.RegisterMany(testConfigs())

	// Overriding a scene that never ran must not stamp a completion time.
	sc := r.SetState("gears", StateOverridden)
	require.NotNil(t, sc)
	assert.True(t, sc.TimeCompleted.IsZero())
}

type recordingListener struct {
	started   []string
	completed []string
	updated   int
}

func (l *recordingListener) SceneStarted(sc *Runtime)   { l.started = append(l.started, sc.ID) }
func (l *recordingListener) SceneCompleted(sc *Runtime) { l.completed = append(l.completed, sc.ID) }
func (l *recordingListener) SceneUpdated(sc *Runtime)   { l.updated++ }

func TestListenerCallbacks(t *testing.T) {
	r := NewRegistry()
	r.RegisterMany(testConfigs())
	l := &recordingListener{}
	r.SetListener(l)

	r.SetState("gears", StateActive)
	r.SetState("gears", StateSolved)

	assert.Equal(t, []string{"gears"}, l.started)
	assert.Equal(t, []string{"gears"}, l.completed)
	assert.Equal(t, 2, l.updated)
}

func TestCanActivate(t *testing.T) {
	r := NewRegistry()
	r.RegisterMany(testConfigs())

	ok, reason := r.CanActivate("missing")
	assert.False(t, ok)
	assert.Equal(t, "Scene not found", reason)

	ok, reason = r.CanActivate("gears")
	assert.False(t, ok)
	assert.Equal(t, "Prerequisites not met: intro", reason)

	r.SetState("intro", StateActive)
	r.SetState("intro", StateSolved)

	ok, _ = r.CanActivate("gears")
	assert.True(t, ok)

	r.SetState("gears", StateActive)
	ok, reason = r.CanActivate("gears")
	assert.False(t, ok)
	assert.Equal(t, "Scene is already active", reason)

	// vault blocks gears while active, not the other way around
	r.SetState("gears", StateSolved)
	ok, reason = r.CanActivate("gears")
	assert.False(t, ok)
	assert.Equal(t, "Scene is already completed", reason)

	r.SetState("vault", StateActive)
	r.Reset("gears")
	ok, reason = r.CanActivate("gears")
	assert.False(t, ok)
	assert.Equal(t, "Blocked by active scene: Vault Lock (vault)", reason)
}

func TestGetAvailableScenes(t *testing.T) {
	r := NewRegistry()
	r.RegisterMany(testConfigs())

	avail := r.GetAvailableScenes("clockwork")
	require.Len(t, avail, 1)
	assert.Equal(t, "intro", avail[0].ID)

	r.SetState("intro", StateActive)
	r.SetState("intro", StateSolved)

	avail = r.GetAvailableScenes("clockwork")
	require.Len(t, avail, 1)
	assert.Equal(t, "gears", avail[0].ID)
}

func TestReset(t *testing.T) {
	r := NewRegistry()
	r.RegisterMany(testConfigs())

	r.SetState("gears", StateActive)
	r.RecordAttempt("gears")
	r.SetState("gears", StateFailed)

	sc := r.Reset("gears")
	require.NotNil(t, sc)
	assert.Equal(t, StateInactive, sc.State)
	assert.Equal(t, 0, sc.Attempts)
	assert.True(t, sc.TimeStarted.IsZero())
	assert.True(t, sc.TimeCompleted.IsZero())
	assert.Equal(t, -1, sc.CurrentActionIndex)
}

func TestSetCurrentActionIndexOnlyForSequences(t *testing.T) {
	r := NewRegistry()
	r.RegisterMany(testConfigs())

	r.SetCurrentActionIndex("intro", 2)
	assert.Equal(t, 2, r.Get("intro").CurrentActionIndex)

	r.SetCurrentActionIndex("gears", 2)
	assert.Equal(t, -1, r.Get("gears").CurrentActionIndex, "puzzles do not track action indices")
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.RegisterMany(testConfigs())

	a := r.Get("intro")
	a.State = StateError
	a.LastUpdated = time.Time{}

	assert.Equal(t, StateInactive, r.Get("intro").State, "mutating a snapshot must not leak into the registry")
}
