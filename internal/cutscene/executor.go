// Package cutscene plays flat action sequences on a wall-clock schedule.
// Every action is armed up front at its absolute offset, so authored
// timing holds regardless of how long individual commands take.
package cutscene

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/AaronLay10/SentientDirector/internal/scene"
)

// Sink receives due actions and completion. Callbacks run on timer
// goroutines with no executor locks held.
type Sink interface {
	CutsceneAction(sceneID string, index int, a scene.SequenceAction)
	CutsceneCompleted(sceneID string)
}

type playback struct {
	timers      []*time.Timer
	outstanding int
	stopped     bool
}

type loopKey struct {
	sceneID string
	loopID  string
}

type loop struct {
	stopCh chan struct{}
}

// Executor owns cutscene playback and the loop registry. Loops outlive
// their sequence (ambient effects keep running after the last one-shot
// action) and are cancelled explicitly, by a loop.stop action or by
// cleanup when the scene ends.
type Executor struct {
	mu    sync.Mutex
	plays map[string]*playback
	loops map[loopKey]*loop
	sink  Sink
}

func NewExecutor(sink Sink) *Executor {
	return &Executor{
		plays: make(map[string]*playback),
		loops: make(map[loopKey]*loop),
		sink:  sink,
	}
}

// Start arms every action in the sequence at its absolute delay. A scene
// already playing is stopped and restarted from zero.
func (e *Executor) Start(sceneID string, seq []scene.SequenceAction) error {
	if len(seq) == 0 {
		return fmt.Errorf("cutscene %s has an empty sequence", sceneID)
	}
	e.Stop(sceneID)

	p := &playback{outstanding: len(seq)}
	e.mu.Lock()
	e.plays[sceneID] = p
	for i := range seq {
		idx := i
		a := seq[i]
		t := time.AfterFunc(time.Duration(a.DelayMs)*time.Millisecond, func() {
			e.fire(sceneID, idx, a)
		})
		p.timers = append(p.timers, t)
	}
	e.mu.Unlock()
	return nil
}

// Stop cancels a playing sequence's pending timers. Running loops are
// left alone; callers end those with CleanupLoops when the scene itself
// ends.
func (e *Executor) Stop(sceneID string) {
	e.mu.Lock()
	p, ok := e.plays[sceneID]
	if ok {
		p.stopped = true
		for _, t := range p.timers {
			t.Stop()
		}
		delete(e.plays, sceneID)
	}
	e.mu.Unlock()
}

// Pause is unsupported for cutscenes: offsets are absolute and the
// physical effects they cue cannot be suspended mid-flight.
func (e *Executor) Pause(sceneID string) error {
	log.Printf("cutscene: pause requested for %s; sequences cannot pause", sceneID)
	return fmt.Errorf("cutscene %s cannot be paused", sceneID)
}

// Resume is unsupported, matching Pause.
func (e *Executor) Resume(sceneID string) error {
	log.Printf("cutscene: resume requested for %s; sequences cannot pause", sceneID)
	return fmt.Errorf("cutscene %s cannot be resumed", sceneID)
}

// StopLoop cancels one named loop for a scene.
func (e *Executor) StopLoop(sceneID, loopID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLoopLocked(loopKey{sceneID, loopID})
}

// CleanupLoops cancels every loop owned by a scene. Returns the ids it
// stopped.
func (e *Executor) CleanupLoops(sceneID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []string
	for k := range e.loops {
		if k.sceneID == sceneID {
			ids = append(ids, k.loopID)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		e.stopLoopLocked(loopKey{sceneID, id})
	}
	return ids
}

// CleanupAllLoops cancels every loop in the registry. Used at shutdown
// and on room power-off.
func (e *Executor) CleanupAllLoops() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for k := range e.loops {
		if e.stopLoopLocked(k) {
			n++
		}
	}
	return n
}

// ActiveLoops lists a scene's running loop ids.
func (e *Executor) ActiveLoops(sceneID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []string
	for k := range e.loops {
		if k.sceneID == sceneID {
			ids = append(ids, k.loopID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (e *Executor) stopLoopLocked(k loopKey) bool {
	l, ok := e.loops[k]
	if !ok {
		return false
	}
	close(l.stopCh)
	delete(e.loops, k)
	return true
}

func (e *Executor) fire(sceneID string, idx int, a scene.SequenceAction) {
	e.mu.Lock()
	p, ok := e.plays[sceneID]
	if !ok || p.stopped {
		e.mu.Unlock()
		return
	}
	p.outstanding--
	done := p.outstanding == 0
	if done {
		delete(e.plays, sceneID)
	}

	if a.Action == scene.StopLoopAction {
		stopped := e.stopLoopLocked(loopKey{sceneID, a.LoopID})
		e.mu.Unlock()
		if !stopped {
			log.Printf("cutscene: %s loop.stop for unknown loop %q", sceneID, a.LoopID)
		}
		if done {
			e.sink.CutsceneCompleted(sceneID)
		}
		return
	}

	if a.Execution != nil && a.Execution.Mode == "loop" && a.Execution.IntervalMs > 0 {
		k := loopKey{sceneID, a.Execution.LoopID}
		e.stopLoopLocked(k)
		l := &loop{stopCh: make(chan struct{})}
		e.loops[k] = l
		go e.runLoop(sceneID, idx, a, l)
	}
	e.mu.Unlock()

	e.sink.CutsceneAction(sceneID, idx, a)
	if done {
		e.sink.CutsceneCompleted(sceneID)
	}
}

func (e *Executor) runLoop(sceneID string, idx int, a scene.SequenceAction, l *loop) {
	ticker := time.NewTicker(time.Duration(a.Execution.IntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			e.sink.CutsceneAction(sceneID, idx, a)
		}
	}
}
