// Package timeline runs block-program puzzles. Each playing scene gets
// one runner goroutine that steps blocks in order, waits on watch blocks
// by polling the condition cache, and follows check-block jumps.
package timeline

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/AaronLay10/SentientDirector/internal/condition"
	"github.com/AaronLay10/SentientDirector/internal/scene"
)

const defaultPollInterval = 200 * time.Millisecond

// Listener observes timeline progress. Callbacks run on the runner
// goroutine with no interpreter locks held; Solved, Failed, Reset, and
// Error are terminal for the run.
type Listener interface {
	BlockStarted(sceneID string, b scene.Block, index int)
	// WatchTick reports the current reading of every condition in a watch
	// block, keyed "device/sensor/field", once per poll while unsatisfied.
	WatchTick(sceneID string, b scene.Block, values map[string]any)
	TimelineAction(sceneID string, a scene.TimelineAction)
	AudioCue(sceneID, cue, device string)
	VariableSet(sceneID, name string, value any)
	TimelineSolved(sceneID string)
	TimelineFailed(sceneID string)
	TimelineReset(sceneID string)
	TimelineFinished(sceneID string, timings []BlockTiming)
	TimelineError(sceneID string, err error)
}

// BlockTiming records how long one block held the program counter.
type BlockTiming struct {
	BlockID string
	Index   int
	Elapsed time.Duration
}

// Config tunes interpreter policy.
type Config struct {
	// PollInterval is the watch-block evaluation cadence.
	PollInterval time.Duration
	// StrictJumps makes an unresolvable check-block target a terminal
	// error instead of a logged fall-through.
	StrictJumps bool
}

type run struct {
	cancel chan struct{}
	vars   map[string]any
}

// Interpreter tracks one run per playing scene.
type Interpreter struct {
	mu       sync.Mutex
	runs     map[string]*run
	eval     *condition.Evaluator
	listener Listener
	cfg      Config
	wg       sync.WaitGroup
}

func NewInterpreter(eval *condition.Evaluator, listener Listener, cfg Config) *Interpreter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Interpreter{
		runs:     make(map[string]*run),
		eval:     eval,
		listener: listener,
		cfg:      cfg,
	}
}

// Start launches a runner for the scene's blocks. A scene already
// running is cancelled and restarted.
func (it *Interpreter) Start(sceneID string, blocks []scene.Block) error {
	if len(blocks) == 0 {
		return fmt.Errorf("timeline for %s has no blocks", sceneID)
	}
	it.Stop(sceneID)

	r := &run{cancel: make(chan struct{}), vars: make(map[string]any)}
	it.mu.Lock()
	it.runs[sceneID] = r
	it.mu.Unlock()

	it.wg.Add(1)
	go it.exec(sceneID, blocks, r)
	return nil
}

// Stop cancels a scene's run. Returns false if nothing was running.
func (it *Interpreter) Stop(sceneID string) bool {
	it.mu.Lock()
	r, ok := it.runs[sceneID]
	if ok {
		close(r.cancel)
		delete(it.runs, sceneID)
	}
	it.mu.Unlock()
	return ok
}

// StopAll cancels every run and waits for the runners to exit.
func (it *Interpreter) StopAll() {
	it.mu.Lock()
	for id, r := range it.runs {
		close(r.cancel)
		delete(it.runs, id)
	}
	it.mu.Unlock()
	it.wg.Wait()
}

// Running reports whether a scene's timeline is in flight.
func (it *Interpreter) Running(sceneID string) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	_, ok := it.runs[sceneID]
	return ok
}

// Variable reads a value stored by a set_variable block during the
// current run.
func (it *Interpreter) Variable(sceneID, name string) (any, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	r, ok := it.runs[sceneID]
	if !ok {
		return nil, false
	}
	v, ok := r.vars[name]
	return v, ok
}

func (it *Interpreter) exec(sceneID string, blocks []scene.Block, r *run) {
	defer it.wg.Done()
	defer it.forget(sceneID, r)

	index := make(map[string]int, len(blocks))
	for i, b := range blocks {
		if b.ID != "" {
			index[b.ID] = i
		}
	}

	pc := 0
	var timings []BlockTiming
	for pc < len(blocks) {
		if cancelled(r.cancel) {
			return
		}
		b := blocks[pc]
		started := time.Now()
		it.listener.BlockStarted(sceneID, b, pc)

		switch b.Type {
		case scene.BlockState:
			it.execChildren(sceneID, b, r)

		case scene.BlockWatch:
			if !it.waitFor(sceneID, b, r.cancel) {
				return
			}

		case scene.BlockAction:
			if !it.execAction(sceneID, b.Action, r.cancel) {
				return
			}

		case scene.BlockAudio:
			it.listener.AudioCue(sceneID, b.AudioCue, b.AudioDevice)

		case scene.BlockCheck:
			target := b.OnFalse
			if b.CheckConditions == nil || it.eval.EvaluateGroup(*b.CheckConditions) {
				target = b.OnTrue
			}
			if target == "" {
				break
			}
			next, ok := index[target]
			if !ok {
				if it.cfg.StrictJumps {
					it.listener.TimelineError(sceneID, fmt.Errorf("check block %s jumps to unknown block %q", b.ID, target))
					return
				}
				log.Printf("timeline: %s check block %s jumps to unknown block %q, continuing", sceneID, b.ID, target)
				break
			}
			timings = append(timings, BlockTiming{BlockID: b.ID, Index: pc, Elapsed: time.Since(started)})
			pc = next
			continue

		case scene.BlockSetVariable:
			it.setVariable(sceneID, b, r)

		case scene.BlockSolve:
			it.listener.TimelineSolved(sceneID)
			return
		case scene.BlockFail:
			it.listener.TimelineFailed(sceneID)
			return
		case scene.BlockReset:
			it.listener.TimelineReset(sceneID)
			return

		default:
			log.Printf("timeline: %s skipping unknown block type %q (%s)", sceneID, b.Type, b.ID)
		}
		timings = append(timings, BlockTiming{BlockID: b.ID, Index: pc, Elapsed: time.Since(started)})
		pc++
	}
	it.listener.TimelineFinished(sceneID, timings)
}

// execChildren runs a state block's children in order. Children are
// synchronous grouping only; blocking child types are skipped with a
// warning so a bad program cannot wedge the group inside its parent.
func (it *Interpreter) execChildren(sceneID string, b scene.Block, r *run) {
	for _, c := range b.Children {
		if cancelled(r.cancel) {
			return
		}
		switch c.Type {
		case scene.BlockAction:
			it.execAction(sceneID, c.Action, r.cancel)
		case scene.BlockAudio:
			it.listener.AudioCue(sceneID, c.AudioCue, c.AudioDevice)
		case scene.BlockSetVariable:
			it.setVariable(sceneID, c, r)
		default:
			log.Printf("timeline: %s state block %s skipping nested %s block %s", sceneID, b.ID, c.Type, c.ID)
		}
	}
}

func (it *Interpreter) execAction(sceneID string, a *scene.TimelineAction, cancel chan struct{}) bool {
	if a == nil {
		return true
	}
	if a.DelayMs > 0 {
		if !sleep(time.Duration(a.DelayMs)*time.Millisecond, cancel) {
			return false
		}
	}
	it.listener.TimelineAction(sceneID, *a)
	return true
}

func (it *Interpreter) setVariable(sceneID string, b scene.Block, r *run) {
	if b.VariableName == "" {
		log.Printf("timeline: %s set_variable block %s has no variable name", sceneID, b.ID)
		return
	}
	value := b.VariableValue
	if b.VariableSource != "" {
		// Source form "deviceId/sensorName/field" reads the live cache.
		if dev, sensor, field, ok := splitSource(b.VariableSource); ok {
			if v, found := it.eval.SensorValue(dev, sensor, field); found {
				value = v
			}
		}
	}
	it.mu.Lock()
	r.vars[b.VariableName] = value
	it.mu.Unlock()
	it.listener.VariableSet(sceneID, b.VariableName, value)
}

// waitFor polls the watch block's condition group until it holds or the
// run is cancelled, reporting the live sensor readings on every
// unsatisfied poll. Returns false on cancellation.
func (it *Interpreter) waitFor(sceneID string, b scene.Block, cancel chan struct{}) bool {
	g := b.WatchConditions
	if g == nil {
		return true
	}
	ticker := time.NewTicker(it.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if it.eval.EvaluateGroup(*g) {
			return true
		}
		it.listener.WatchTick(sceneID, b, it.watchValues(*g))
		select {
		case <-cancel:
			return false
		case <-ticker.C:
		}
	}
}

// watchValues snapshots the reading behind every condition in the group.
// Fields with no cached value yet report nil.
func (it *Interpreter) watchValues(g scene.ConditionGroup) map[string]any {
	values := make(map[string]any, len(g.Conditions))
	for _, c := range g.Conditions {
		key := c.DeviceID + "/" + c.SensorName + "/" + c.Field
		v, ok := it.eval.SensorValue(c.DeviceID, c.SensorName, c.Field)
		if !ok {
			v = nil
		}
		values[key] = v
	}
	return values
}

func (it *Interpreter) forget(sceneID string, r *run) {
	it.mu.Lock()
	if cur, ok := it.runs[sceneID]; ok && cur == r {
		delete(it.runs, sceneID)
	}
	it.mu.Unlock()
}

func splitSource(s string) (device, sensor, field string, ok bool) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func sleep(d time.Duration, cancel chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-cancel:
		return false
	case <-t.C:
		return true
	}
}

func cancelled(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
