package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SentientDirector/internal/condition"
	"github.com/AaronLay10/SentientDirector/internal/scene"
)

type recorder struct {
	triggers []Trigger
	disabled []string
}

func (r *recorder) WatchTriggered(t Trigger)                     { r.triggers = append(r.triggers, t) }
func (r *recorder) WatchDisabled(watchID, sceneID, reason string) { r.disabled = append(r.disabled, watchID) }

func setup() (*Monitor, *condition.Evaluator, *recorder) {
	eval := condition.NewEvaluator()
	rec := &recorder{}
	m := NewMonitor(eval, rec, time.Hour) // loop never started; tests drive Tick
	return m, eval, rec
}

func holdWatch(id string) scene.SensorWatch {
	return scene.SensorWatch{
		ID:   id,
		Name: id,
		Conditions: scene.ConditionGroup{
			Logic: scene.LogicAnd,
			Conditions: []scene.Condition{
				{DeviceID: "btn", SensorName: "Press", Field: "down", Operator: scene.OpEqual, Value: true},
			},
		},
		OnTrigger: scene.ActionGroup{
			Actions: []scene.ConditionalAction{
				{Type: "mqtt.publish", Target: "Bell"},
			},
		},
	}
}

func press(eval *condition.Evaluator, down bool) {
	eval.UpdateSensorData("btn", "Press", map[string]any{"down": down})
}

func TestTriggerFiresWhenConditionsHold(t *testing.T) {
	m, eval, rec := setup()
	m.Register(holdWatch("w1"), "scene-a", "")

	m.Tick()
	assert.Empty(t, rec.triggers, "no data yet")

	press(eval, true)
	m.Tick()
	require.Len(t, rec.triggers, 1)
	assert.Equal(t, "w1", rec.triggers[0].WatchID)
	assert.Equal(t, "scene-a", rec.triggers[0].SceneID)
	require.Len(t, rec.triggers[0].Actions, 1)
}

func TestCooldownSuppressesRefire(t *testing.T) {
	m, eval, rec := setup()
	now := time.Now()
	m.now = func() time.Time { return now }

	w := holdWatch("w1")
	w.CooldownMs = 1000
	m.Register(w, "scene-a", "")
	press(eval, true)

	m.Tick()
	m.Tick()
	assert.Len(t, rec.triggers, 1, "second tick inside cooldown must not fire")

	now = now.Add(1100 * time.Millisecond)
	m.Tick()
	assert.Len(t, rec.triggers, 2, "fires again after cooldown passes")
}

func TestTriggerOnceDisables(t *testing.T) {
	m, eval, rec := setup()
	w := holdWatch("w1")
	w.TriggerOnce = true
	m.Register(w, "scene-a", "")
	press(eval, true)

	m.Tick()
	m.Tick()
	assert.Len(t, rec.triggers, 1)
	assert.Equal(t, []string{"w1"}, rec.disabled)
}

func TestMaxTriggers(t *testing.T) {
	m, eval, rec := setup()
	now := time.Now()
	m.now = func() time.Time { return now }

	w := holdWatch("w1")
	w.MaxTriggers = 2
	m.Register(w, "scene-a", "")
	press(eval, true)

	for i := 0; i < 4; i++ {
		m.Tick()
	}
	assert.Len(t, rec.triggers, 2)
	assert.Len(t, rec.disabled, 1)
}

func TestPhaseScoping(t *testing.T) {
	m, eval, rec := setup()

	w := holdWatch("w1")
	w.ActiveDuringPhases = []string{"stage-2"}
	m.Register(w, "scene-a", "stage-2")
	press(eval, true)

	m.SetActivePhase("scene-a", "stage-1")
	m.Tick()
	assert.Empty(t, rec.triggers, "watch scoped to stage-2 must not fire in stage-1")

	m.SetActivePhase("scene-a", "stage-2")
	m.Tick()
	assert.Len(t, rec.triggers, 1)
}

func TestDeterministicOrder(t *testing.T) {
	m, eval, rec := setup()
	m.Register(holdWatch("w2"), "scene-a", "")
	m.Register(holdWatch("w1"), "scene-a", "")
	m.Register(holdWatch("w3"), "scene-a", "")
	press(eval, true)

	m.Tick()
	require.Len(t, rec.triggers, 3)
	assert.Equal(t, "w1", rec.triggers[0].WatchID)
	assert.Equal(t, "w2", rec.triggers[1].WatchID)
	assert.Equal(t, "w3", rec.triggers[2].WatchID)
}

func TestUnregisterScene(t *testing.T) {
	m, eval, rec := setup()
	m.Register(holdWatch("w1"), "scene-a", "")
	m.Register(holdWatch("w2"), "scene-b", "")
	press(eval, true)

	m.UnregisterScene("scene-a")
	assert.Equal(t, 1, m.WatchCount())

	m.Tick()
	require.Len(t, rec.triggers, 1)
	assert.Equal(t, "w2", rec.triggers[0].WatchID)
}

func TestStopFromCallbackDoesNotDeadlock(t *testing.T) {
	eval := condition.NewEvaluator()
	var m *Monitor
	stopper := &callbackStopper{}
	m = NewMonitor(eval, stopper, time.Hour)
	stopper.m = m

	m.Register(holdWatch("w1"), "scene-a", "")
	press(eval, true)

	done := make(chan struct{})
	go func() {
		m.Tick()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Tick deadlocked when the listener called Stop")
	}
}

type callbackStopper struct{ m *Monitor }

func (c *callbackStopper) WatchTriggered(t Trigger)                     { c.m.Stop() }
func (c *callbackStopper) WatchDisabled(watchID, sceneID, reason string) {}
