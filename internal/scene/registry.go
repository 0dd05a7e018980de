package scene

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Listener receives registry state-change notifications. The orchestrator
// wires itself in explicitly; there is no global event bus at this layer.
type Listener interface {
	SceneStarted(sc *Runtime)
	SceneCompleted(sc *Runtime)
	SceneUpdated(sc *Runtime)
}

// Registry is the authoritative store of scene definitions and runtime
// state. All state mutations for a scene go through SetState/Reset, which
// serialize per registry.
type Registry struct {
	mu       sync.RWMutex
	scenes   map[string]*Runtime
	listener Listener
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		scenes: make(map[string]*Runtime),
		now:    time.Now,
	}
}

// SetListener registers the single registry listener.
func (r *Registry) SetListener(l Listener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

// Register adds or replaces a scene definition with fresh runtime state.
func (r *Registry) Register(cfg Config) *Runtime {
	sc := &Runtime{
		Config:             cfg,
		Program:            ResolveProgram(cfg),
		State:              StateInactive,
		LastUpdated:        r.now(),
		CurrentActionIndex: -1,
	}

	r.mu.Lock()
	r.scenes[cfg.ID] = sc
	r.mu.Unlock()

	log.Printf("scene: registered %s %q (%s)", cfg.Type, cfg.Name, cfg.ID)
	return sc
}

// RegisterMany registers a batch of scenes.
func (r *Registry) RegisterMany(cfgs []Config) {
	for _, cfg := range cfgs {
		r.Register(cfg)
	}
}

// ReplaceAll swaps the entire registry contents (hot reload).
func (r *Registry) ReplaceAll(cfgs []Config) {
	r.mu.Lock()
	r.scenes = make(map[string]*Runtime, len(cfgs))
	r.mu.Unlock()

	r.RegisterMany(cfgs)
	log.Printf("scene: registry replaced with %d scenes", len(cfgs))
}

// Get returns a snapshot of a scene, or nil if unknown.
func (r *Registry) Get(id string) *Runtime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.scenes[id]
	if !ok {
		return nil
	}
	cp := *sc
	return &cp
}

// List returns snapshots of all scenes, sorted by id for stable output.
func (r *Registry) List() []*Runtime {
	r.mu.RLock()
	out := make([]*Runtime, 0, len(r.scenes))
	for _, sc := range r.scenes {
		cp := *sc
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListByRoom returns all scenes in a room.
func (r *Registry) ListByRoom(roomID string) []*Runtime {
	all := r.List()
	out := all[:0]
	for _, sc := range all {
		if sc.RoomID == roomID {
			out = append(out, sc)
		}
	}
	return out
}

// ListByType returns all scenes of a type.
func (r *Registry) ListByType(t Type) []*Runtime {
	all := r.List()
	out := all[:0]
	for _, sc := range all {
		if sc.Config.Type == t {
			out = append(out, sc)
		}
	}
	return out
}

// SetState transitions a scene and stamps timing. timeStarted is stamped
// entering active; timeCompleted only transitioning out of active into a
// terminal state. Returns the updated snapshot, or nil if the scene is
// unknown.
func (r *Registry) SetState(id string, state State) *Runtime {
	r.mu.Lock()
	sc, ok := r.scenes[id]
	if !ok {
		r.mu.Unlock()
		log.Printf("scene: cannot set state, scene not found: %s", id)
		return nil
	}

	prev := sc.State
	sc.State = state
	sc.LastUpdated = r.now()

	started := state == StateActive && prev != StateActive
	completed := prev == StateActive &&
		(state == StateSolved || state == StateOverridden || state == StateFailed || state == StateTimeout)

	if started {
		sc.TimeStarted = r.now()
	}
	if completed {
		sc.TimeCompleted = r.now()
	}

	cp := *sc
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		if started {
			listener.SceneStarted(&cp)
		}
		if completed {
			listener.SceneCompleted(&cp)
		}
		listener.SceneUpdated(&cp)
	}
	return &cp
}

// RecordAttempt increments a scene's attempt counter.
func (r *Registry) RecordAttempt(id string) {
	r.mu.Lock()
	sc, ok := r.scenes[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	sc.Attempts++
	sc.LastUpdated = r.now()
	cp := *sc
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		listener.SceneUpdated(&cp)
	}
}

// SetCurrentActionIndex tracks cutscene progress.
func (r *Registry) SetCurrentActionIndex(id string, index int) {
	r.mu.Lock()
	sc, ok := r.scenes[id]
	if !ok || (sc.Config.Type != TypeCutscene && sc.Config.Type != TypeScene) {
		r.mu.Unlock()
		return
	}
	sc.CurrentActionIndex = index
	sc.LastUpdated = r.now()
	cp := *sc
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		listener.SceneUpdated(&cp)
	}
}

// Reset returns a scene to its initial state, clearing attempts,
// timestamps, and indices.
func (r *Registry) Reset(id string) *Runtime {
	r.mu.Lock()
	sc, ok := r.scenes[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	sc.State = StateInactive
	sc.Attempts = 0
	sc.TimeStarted = time.Time{}
	sc.TimeCompleted = time.Time{}
	sc.CurrentActionIndex = -1
	sc.LastUpdated = r.now()

	cp := *sc
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		listener.SceneUpdated(&cp)
	}
	log.Printf("scene: reset %s", id)
	return &cp
}

// GetAvailableScenes returns the scenes in a room that could activate now:
// not active or completed, prerequisites satisfied, and not blocked by a
// currently active scene.
func (r *Registry) GetAvailableScenes(roomID string) []*Runtime {
	roomScenes := r.ListByRoom(roomID)

	solved := make(map[string]bool)
	var active []*Runtime
	for _, sc := range roomScenes {
		if sc.State.IsCompleted() {
			solved[sc.ID] = true
		}
		if sc.State == StateActive {
			active = append(active, sc)
		}
	}

	var out []*Runtime
	for _, sc := range roomScenes {
		if sc.State == StateActive || sc.State.IsCompleted() {
			continue
		}
		if !prereqsMet(sc.Prerequisites, solved) {
			continue
		}
		if blockedBy(sc.ID, active) != nil {
			continue
		}
		out = append(out, sc)
	}
	return out
}

// CanActivate checks whether a scene may be started, returning the first
// failing rule as a human-readable reason.
func (r *Registry) CanActivate(id string) (bool, string) {
	sc := r.Get(id)
	if sc == nil {
		return false, "Scene not found"
	}

	if sc.State == StateActive {
		return false, "Scene is already active"
	}
	if sc.State.IsCompleted() {
		return false, "Scene is already completed"
	}

	roomScenes := r.ListByRoom(sc.RoomID)
	solved := make(map[string]bool)
	var active []*Runtime
	for _, s := range roomScenes {
		if s.State.IsCompleted() {
			solved[s.ID] = true
		}
		if s.State == StateActive {
			active = append(active, s)
		}
	}

	if !prereqsMet(sc.Prerequisites, solved) {
		var missing []string
		for _, p := range sc.Prerequisites {
			if !solved[p] {
				missing = append(missing, p)
			}
		}
		return false, fmt.Sprintf("Prerequisites not met: %s", joinIDs(missing))
	}

	if blocker := blockedBy(sc.ID, active); blocker != nil {
		return false, fmt.Sprintf("Blocked by active scene: %s (%s)", blocker.Name, blocker.ID)
	}

	return true, ""
}

func prereqsMet(prereqs []string, solved map[string]bool) bool {
	for _, p := range prereqs {
		if !solved[p] {
			return false
		}
	}
	return true
}

func blockedBy(id string, active []*Runtime) *Runtime {
	for _, sc := range active {
		for _, blocked := range sc.Blocks {
			if blocked == id {
				return sc
			}
		}
	}
	return nil
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}
