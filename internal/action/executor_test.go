package action

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SentientDirector/internal/scene"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    []scene.ConditionalAction
	err      error
	panicMsg string
}

func (d *fakeDispatcher) Dispatch(a scene.ConditionalAction, ctx Context) error {
	d.mu.Lock()
	d.calls = append(d.calls, a)
	d.mu.Unlock()
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	return d.err
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type outcomeRecorder struct {
	mu       sync.Mutex
	executed []string
	errored  []string
}

func (r *outcomeRecorder) ActionExecuted(id string, a scene.ConditionalAction, ctx Context) {
	r.mu.Lock()
	r.executed = append(r.executed, id)
	r.mu.Unlock()
}

func (r *outcomeRecorder) ActionError(id string, a scene.ConditionalAction, ctx Context, err error) {
	r.mu.Lock()
	r.errored = append(r.errored, id)
	r.mu.Unlock()
}

func TestImmediateDispatch(t *testing.T) {
	d := &fakeDispatcher{}
	r := &outcomeRecorder{}
	e := NewExecutor(d, r)

	id := e.ExecuteAction(scene.ConditionalAction{Type: "mqtt.publish", Target: "Bell"}, Context{SceneID: "s"})
	assert.Equal(t, 1, d.count())
	assert.Equal(t, []string{id}, r.executed)
	assert.Zero(t, e.PendingCount())
}

func TestDelayedDispatchAndCancel(t *testing.T) {
	d := &fakeDispatcher{}
	e := NewExecutor(d, &outcomeRecorder{})

	id := e.ExecuteAction(scene.ConditionalAction{Type: "mqtt.publish", Target: "Bell", DelayMs: 50}, Context{})
	assert.Equal(t, 1, e.PendingCount())

	n := e.Cancel(id)
	assert.Equal(t, 1, n)
	assert.Zero(t, e.PendingCount())

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, d.count(), "cancelled action must never dispatch")
}

func TestDelayedDispatchFires(t *testing.T) {
	d := &fakeDispatcher{}
	e := NewExecutor(d, &outcomeRecorder{})

	e.ExecuteAction(scene.ConditionalAction{Type: "mqtt.publish", Target: "Bell", DelayMs: 10}, Context{})
	require.Eventually(t, func() bool { return d.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, e.PendingCount())
}

func TestGroupSharedDelayAndCancel(t *testing.T) {
	d := &fakeDispatcher{}
	e := NewExecutor(d, &outcomeRecorder{})

	g := scene.ActionGroup{
		DelayMs: 60,
		Actions: []scene.ConditionalAction{
			{Type: "mqtt.publish", Target: "A"},
			{Type: "mqtt.publish", Target: "B", DelayMs: 60},
		},
	}
	groupID := e.ExecuteGroup(g, Context{})
	assert.Equal(t, 2, e.PendingCount(), "group delay applies to every member")

	n := e.Cancel(groupID)
	assert.Equal(t, 2, n)
	assert.Zero(t, e.PendingCount())
}

func TestGroupImmediateMembers(t *testing.T) {
	d := &fakeDispatcher{}
	e := NewExecutor(d, &outcomeRecorder{})

	g := scene.ActionGroup{
		Actions: []scene.ConditionalAction{
			{Type: "mqtt.publish", Target: "A"},
			{Type: "scene.complete"},
		},
	}
	e.ExecuteGroup(g, Context{})
	assert.Equal(t, 2, d.count())
}

func TestCancelSceneDropsOnlyThatScene(t *testing.T) {
	d := &fakeDispatcher{}
	e := NewExecutor(d, &outcomeRecorder{})

	e.ExecuteAction(scene.ConditionalAction{Type: "mqtt.publish", Target: "Bell", DelayMs: 500}, Context{SceneID: "vault"})
	e.ExecuteAction(scene.ConditionalAction{Type: "mqtt.publish", Target: "Fog", DelayMs: 500}, Context{SceneID: "vault"})
	e.ExecuteAction(scene.ConditionalAction{Type: "mqtt.publish", Target: "Chime", DelayMs: 10}, Context{SceneID: "lobby"})

	assert.Equal(t, 2, e.CancelScene("vault"))
	assert.Equal(t, 1, e.PendingCount())

	require.Eventually(t, func() bool { return d.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Chime", d.calls[0].Target)
}

func TestCancelAll(t *testing.T) {
	e := NewExecutor(&fakeDispatcher{}, &outcomeRecorder{})

	e.ExecuteAction(scene.ConditionalAction{DelayMs: 500}, Context{})
	e.ExecuteAction(scene.ConditionalAction{DelayMs: 500}, Context{})
	assert.Equal(t, 2, e.CancelAll())
	assert.Zero(t, e.PendingCount())
}

func TestDispatchErrorReported(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("broker down")}
	r := &outcomeRecorder{}
	e := NewExecutor(d, r)

	e.ExecuteAction(scene.ConditionalAction{Type: "mqtt.publish"}, Context{})
	assert.Len(t, r.errored, 1)
	assert.Empty(t, r.executed)
}

func TestDispatchPanicRecovered(t *testing.T) {
	d := &fakeDispatcher{panicMsg: "boom"}
	r := &outcomeRecorder{}
	e := NewExecutor(d, r)

	assert.NotPanics(t, func() {
		e.ExecuteAction(scene.ConditionalAction{Type: "mqtt.publish"}, Context{})
	})
	assert.Len(t, r.errored, 1)
}
