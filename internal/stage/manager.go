// Package stage drives multi-stage puzzles: one stage active at a time,
// advancing when its win conditions hold, timing out when its limit
// passes, and reporting puzzle completion after the final stage.
package stage

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/AaronLay10/SentientDirector/internal/condition"
	"github.com/AaronLay10/SentientDirector/internal/scene"
	"github.com/AaronLay10/SentientDirector/internal/watch"
)

const defaultPollInterval = 100 * time.Millisecond

// Listener observes stage progression. Callbacks run with no manager
// locks held, on the tick goroutine or a timer goroutine. elapsed is how
// long the stage was active; total sums elapsed across every stage.
type Listener interface {
	StageStarted(sceneID string, st scene.Stage, index, total int)
	StageCompleted(sceneID string, st scene.Stage, elapsed time.Duration)
	StageTimeout(sceneID string, st scene.Stage, elapsed time.Duration)
	PuzzleCompleted(sceneID string, total time.Duration, stages int)
}

type puzzle struct {
	stages     []scene.Stage
	current    int
	done       bool
	timer      *time.Timer
	stageStart time.Time
	elapsed    time.Duration
}

// Manager holds stage runtime for every initialized puzzle and checks
// the active stage's win conditions on a shared tick.
type Manager struct {
	mu       sync.Mutex
	puzzles  map[string]*puzzle
	eval     *condition.Evaluator
	watches  *watch.Monitor
	listener Listener
	interval time.Duration
	now      func() time.Time

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewManager(eval *condition.Evaluator, watches *watch.Monitor, listener Listener, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Manager{
		puzzles:  make(map[string]*puzzle),
		eval:     eval,
		watches:  watches,
		listener: listener,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the poll loop. Call once.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop signals the loop to exit without waiting; safe from callbacks.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
	m.mu.Unlock()
}

// Wait blocks until the poll loop has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Initialize registers a puzzle's stages, hooks its stage watches into
// the monitor under the stage id as phase, and activates the first stage.
func (m *Manager) Initialize(sceneID string, stages []scene.Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("puzzle %s has no stages", sceneID)
	}

	m.mu.Lock()
	if old, ok := m.puzzles[sceneID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	p := &puzzle{stages: stages, current: 0}
	m.puzzles[sceneID] = p
	m.mu.Unlock()

	for _, st := range stages {
		for _, w := range st.SensorWatches {
			m.watches.Register(w, sceneID, st.ID)
		}
	}
	m.activate(sceneID, p, 0)
	return nil
}

// Teardown forgets a puzzle's stage runtime. Stage watches are dropped
// by the caller via the watch monitor's scene unregistration.
func (m *Manager) Teardown(sceneID string) {
	m.mu.Lock()
	if p, ok := m.puzzles[sceneID]; ok && p.timer != nil {
		p.timer.Stop()
	}
	delete(m.puzzles, sceneID)
	m.mu.Unlock()
}

// CurrentStage reports the active stage of a puzzle.
func (m *Manager) CurrentStage(sceneID string) (scene.Stage, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.puzzles[sceneID]
	if !ok || p.done {
		return scene.Stage{}, 0, false
	}
	return p.stages[p.current], p.current, true
}

// CompleteStage advances a puzzle past the named stage. Director skips
// call this directly; the tick loop calls it when win conditions hold.
func (m *Manager) CompleteStage(sceneID, stageID string) error {
	m.mu.Lock()
	p, ok := m.puzzles[sceneID]
	if !ok || p.done {
		m.mu.Unlock()
		return fmt.Errorf("no active puzzle %s", sceneID)
	}
	st := p.stages[p.current]
	if st.ID != stageID {
		m.mu.Unlock()
		return fmt.Errorf("stage %s is not current for puzzle %s (current %s)", stageID, sceneID, st.ID)
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	elapsed := m.now().Sub(p.stageStart)
	p.elapsed += elapsed
	total := p.elapsed
	last := p.current == len(p.stages)-1
	if last {
		p.done = true
	} else {
		p.current++
	}
	next := p.current
	stageCount := len(p.stages)
	m.mu.Unlock()

	m.listener.StageCompleted(sceneID, st, elapsed)
	if last {
		// Leave no phase live so completed-stage watches cannot refire.
		m.watches.SetActivePhase(sceneID, "")
		m.listener.PuzzleCompleted(sceneID, total, stageCount)
		return nil
	}

	m.mu.Lock()
	p2, ok := m.puzzles[sceneID]
	m.mu.Unlock()
	if ok {
		m.activate(sceneID, p2, next)
	}
	return nil
}

func (m *Manager) activate(sceneID string, p *puzzle, idx int) {
	m.mu.Lock()
	st := p.stages[idx]
	total := len(p.stages)
	p.stageStart = m.now()
	if st.TimeLimitMs > 0 {
		p.timer = time.AfterFunc(time.Duration(st.TimeLimitMs)*time.Millisecond, func() {
			m.timeout(sceneID, st.ID)
		})
	}
	m.mu.Unlock()

	m.watches.SetActivePhase(sceneID, st.ID)
	log.Printf("stage: %s activating stage %s (%d/%d)", sceneID, st.ID, idx+1, total)
	m.listener.StageStarted(sceneID, st, idx, total)
}

func (m *Manager) timeout(sceneID, stageID string) {
	m.mu.Lock()
	p, ok := m.puzzles[sceneID]
	if !ok || p.done || p.stages[p.current].ID != stageID {
		m.mu.Unlock()
		return
	}
	st := p.stages[p.current]
	elapsed := m.now().Sub(p.stageStart)
	p.done = true
	p.timer = nil
	m.mu.Unlock()

	m.watches.SetActivePhase(sceneID, "")
	m.listener.StageTimeout(sceneID, st, elapsed)
}

func (m *Manager) run() {
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

// Tick checks the active stage of every puzzle against its win
// conditions. Exported for deterministic tests.
func (m *Manager) Tick() {
	type due struct {
		sceneID string
		stageID string
	}
	var ready []due

	m.mu.Lock()
	for sceneID, p := range m.puzzles {
		if p.done {
			continue
		}
		st := p.stages[p.current]
		if len(st.WinConditions.Conditions) == 0 {
			// A stage with no win conditions advances by watch actions or
			// director skip only, never by the tick.
			continue
		}
		if m.eval.EvaluateGroup(st.WinConditions) {
			ready = append(ready, due{sceneID, st.ID})
		}
	}
	m.mu.Unlock()

	for _, d := range ready {
		if err := m.CompleteStage(d.sceneID, d.stageID); err != nil {
			log.Printf("stage: %v", err)
		}
	}
}
