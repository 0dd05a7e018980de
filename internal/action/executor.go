// Package action schedules conditional actions and action groups,
// honoring per-action delays and supporting cancellation of pending work.
// It does not interpret action types itself; a Dispatcher does.
package action

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/AaronLay10/SentientDirector/internal/scene"
)

// Context identifies who asked for an action, threaded through to the
// dispatcher for routing and event payloads.
type Context struct {
	SceneID     string
	RoomID      string
	TriggeredBy string
}

// Dispatcher performs a single due action. Implementations route by
// action type (device command, scene transition, audio cue). A returned
// error is reported through the Listener, never retried.
type Dispatcher interface {
	Dispatch(a scene.ConditionalAction, ctx Context) error
}

// Listener observes executor outcomes.
type Listener interface {
	ActionExecuted(id string, a scene.ConditionalAction, ctx Context)
	ActionError(id string, a scene.ConditionalAction, ctx Context, err error)
}

type pendingAction struct {
	timer   *time.Timer
	sceneID string
}

// Executor owns the pending-action table. Delayed actions are cancellable
// until their timer fires; immediate actions dispatch inline.
type Executor struct {
	mu         sync.Mutex
	pending    map[string]*pendingAction
	seq        int
	dispatcher Dispatcher
	listener   Listener
}

func NewExecutor(dispatcher Dispatcher, listener Listener) *Executor {
	return &Executor{
		pending:    make(map[string]*pendingAction),
		dispatcher: dispatcher,
		listener:   listener,
	}
}

// ExecuteAction runs one action, after its delay if set. The returned id
// can be passed to Cancel while the action is still pending.
func (e *Executor) ExecuteAction(a scene.ConditionalAction, ctx Context) string {
	e.mu.Lock()
	e.seq++
	id := fmt.Sprintf("action-%d", e.seq)
	e.mu.Unlock()

	if a.DelayMs <= 0 {
		e.dispatch(id, a, ctx)
		return id
	}
	e.schedule(id, a, ctx, time.Duration(a.DelayMs)*time.Millisecond)
	return id
}

// ExecuteGroup runs a group's actions. The group's shared delay stacks
// with each member's own delay; the group id cancels all of its
// still-pending members at once.
func (e *Executor) ExecuteGroup(g scene.ActionGroup, ctx Context) string {
	e.mu.Lock()
	e.seq++
	groupID := fmt.Sprintf("group-%d", e.seq)
	e.mu.Unlock()

	for i, a := range g.Actions {
		id := fmt.Sprintf("%s-%d", groupID, i)
		delay := g.DelayMs + a.DelayMs
		if delay <= 0 {
			e.dispatch(id, a, ctx)
			continue
		}
		e.schedule(id, a, ctx, time.Duration(delay)*time.Millisecond)
	}
	return groupID
}

// ExecuteActions is the common case of firing a watch's OnTrigger list.
func (e *Executor) ExecuteActions(actions []scene.ConditionalAction, ctx Context) {
	for _, a := range actions {
		e.ExecuteAction(a, ctx)
	}
}

// Cancel drops a pending action, or every pending member of a group when
// given a group id. Returns how many timers were stopped.
func (e *Executor) Cancel(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	if p, ok := e.pending[id]; ok {
		p.timer.Stop()
		delete(e.pending, id)
		n++
	}
	prefix := id + "-"
	for k, p := range e.pending {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			p.timer.Stop()
			delete(e.pending, k)
			n++
		}
	}
	return n
}

// CancelScene drops every pending action scheduled on a scene's behalf,
// so delayed work cannot fire after the scene has ended. Returns how
// many timers were stopped.
func (e *Executor) CancelScene(sceneID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for id, p := range e.pending {
		if p.sceneID == sceneID {
			p.timer.Stop()
			delete(e.pending, id)
			n++
		}
	}
	return n
}

// CancelAll drops every pending action. Used on shutdown and scene stop.
func (e *Executor) CancelAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.pending)
	for id, p := range e.pending {
		p.timer.Stop()
		delete(e.pending, id)
	}
	return n
}

// PendingCount reports scheduled-but-unfired actions.
func (e *Executor) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Executor) schedule(id string, a scene.ConditionalAction, ctx Context, d time.Duration) {
	e.mu.Lock()
	e.pending[id] = &pendingAction{
		sceneID: ctx.SceneID,
		timer: time.AfterFunc(d, func() {
			e.mu.Lock()
			_, live := e.pending[id]
			delete(e.pending, id)
			e.mu.Unlock()
			if !live {
				return
			}
			e.dispatch(id, a, ctx)
		}),
	}
	e.mu.Unlock()
}

func (e *Executor) dispatch(id string, a scene.ConditionalAction, ctx Context) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in action dispatch: %v", r)
			log.Printf("action: %s %s: %v", id, a.Type, err)
			if e.listener != nil {
				e.listener.ActionError(id, a, ctx, err)
			}
		}
	}()

	if err := e.dispatcher.Dispatch(a, ctx); err != nil {
		log.Printf("action: %s %s failed: %v", id, a.Type, err)
		if e.listener != nil {
			e.listener.ActionError(id, a, ctx, err)
		}
		return
	}
	if e.listener != nil {
		e.listener.ActionExecuted(id, a, ctx)
	}
}
