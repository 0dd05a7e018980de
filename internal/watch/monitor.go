// Package watch polls registered sensor watches against the condition
// cache and fires their actions through a listener when conditions hold.
package watch

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/AaronLay10/SentientDirector/internal/condition"
	"github.com/AaronLay10/SentientDirector/internal/scene"
)

const defaultPollInterval = 100 * time.Millisecond

// Trigger carries everything a listener needs to act on a firing watch.
type Trigger struct {
	WatchID string
	Watch   scene.SensorWatch
	SceneID string
	Actions []scene.ConditionalAction
	// DelayMs is the OnTrigger group's shared delay.
	DelayMs int64
}

// Listener receives watch events. Callbacks run on the monitor's tick
// goroutine with no monitor locks held; they must not call Register or
// Unregister for the firing watch re-entrantly expecting it gone.
type Listener interface {
	WatchTriggered(t Trigger)
	WatchDisabled(watchID, sceneID, reason string)
}

type entry struct {
	watch     scene.SensorWatch
	sceneID   string
	phase     string
	triggered int
	lastFired time.Time
	disabled  bool
}

// Monitor owns the polling loop. One monitor serves all active scenes;
// watches are scoped to a scene by the sceneID they register with and to
// a stage by their phase.
type Monitor struct {
	mu          sync.Mutex
	entries     map[string]*entry
	activePhase map[string]string // sceneID -> phase
	eval        *condition.Evaluator
	listener    Listener
	interval    time.Duration
	now         func() time.Time

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewMonitor(eval *condition.Evaluator, listener Listener, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Monitor{
		entries:     make(map[string]*entry),
		activePhase: make(map[string]string),
		eval:        eval,
		listener:    listener,
		interval:    interval,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the poll loop. Call once.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop signals the loop to exit. It does not wait: Stop may be invoked
// from a listener callback running on the tick goroutine itself.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
	m.mu.Unlock()
}

// Wait blocks until the poll loop has exited. Not for use from callbacks.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Register adds a watch for a scene. phase is empty for scene-level
// watches and the stage id for stage-scoped ones. Re-registering an id
// resets its trigger counters.
func (m *Monitor) Register(w scene.SensorWatch, sceneID, phase string) {
	m.mu.Lock()
	m.entries[w.ID] = &entry{watch: w, sceneID: sceneID, phase: phase}
	m.mu.Unlock()
}

// Unregister removes a watch by id.
func (m *Monitor) Unregister(watchID string) {
	m.mu.Lock()
	delete(m.entries, watchID)
	m.mu.Unlock()
}

// UnregisterScene removes every watch owned by a scene and forgets its
// active phase.
func (m *Monitor) UnregisterScene(sceneID string) {
	m.mu.Lock()
	for id, e := range m.entries {
		if e.sceneID == sceneID {
			delete(m.entries, id)
		}
	}
	delete(m.activePhase, sceneID)
	m.mu.Unlock()
}

// SetActivePhase selects which stage's watches are live for a scene.
// Watches whose ActiveDuringPhases list the phase (or that list nothing
// and carry no phase) are evaluated.
func (m *Monitor) SetActivePhase(sceneID, phase string) {
	m.mu.Lock()
	m.activePhase[sceneID] = phase
	m.mu.Unlock()
}

// WatchCount reports registered watches, for diagnostics.
func (m *Monitor) WatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick evaluates every live watch once. Exported so tests can drive the
// poll deterministically.
func (m *Monitor) Tick() {
	var fired []Trigger
	var disabled []Trigger

	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := m.now()
	for _, id := range ids {
		e := m.entries[id]
		if e.disabled || !m.phaseActiveLocked(e) {
			continue
		}
		if e.watch.CooldownMs > 0 && !e.lastFired.IsZero() {
			if now.Sub(e.lastFired) < time.Duration(e.watch.CooldownMs)*time.Millisecond {
				continue
			}
		}
		if !m.eval.EvaluateGroup(e.watch.Conditions) {
			continue
		}

		e.triggered++
		e.lastFired = now
		t := Trigger{
			WatchID: id,
			Watch:   e.watch,
			SceneID: e.sceneID,
			Actions: e.watch.OnTrigger.Actions,
			DelayMs: e.watch.OnTrigger.DelayMs,
		}
		fired = append(fired, t)

		if e.watch.TriggerOnce || (e.watch.MaxTriggers > 0 && e.triggered >= e.watch.MaxTriggers) {
			e.disabled = true
			disabled = append(disabled, t)
		}
	}
	m.mu.Unlock()

	for _, t := range fired {
		m.listener.WatchTriggered(t)
	}
	for _, t := range disabled {
		reason := "max triggers reached"
		if t.Watch.TriggerOnce {
			reason = "trigger once"
		}
		log.Printf("watch: %s disabled (%s)", t.WatchID, reason)
		m.listener.WatchDisabled(t.WatchID, t.SceneID, reason)
	}
}

func (m *Monitor) phaseActiveLocked(e *entry) bool {
	current := m.activePhase[e.sceneID]
	if len(e.watch.ActiveDuringPhases) == 0 {
		// Unscoped watches run whenever the scene is registered, unless
		// registered under a phase that is not current.
		return e.phase == "" || e.phase == current
	}
	for _, p := range e.watch.ActiveDuringPhases {
		if p == current {
			return true
		}
	}
	return false
}
