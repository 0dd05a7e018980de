// Package timer runs countdown timers on a single shared tick, so a room
// full of stage and scene time limits costs one goroutine.
package timer

import (
	"sync"
	"time"
)

const defaultResolution = 250 * time.Millisecond

// Listener is notified when a countdown reaches zero. The callback runs
// on the manager's tick goroutine with no manager locks held.
type Listener interface {
	TimerExpired(id string)
}

type countdown struct {
	remaining time.Duration
	paused    bool
}

// Manager owns the timer table and the tick loop.
type Manager struct {
	mu       sync.Mutex
	timers   map[string]*countdown
	listener Listener
	res      time.Duration

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewManager(listener Listener, resolution time.Duration) *Manager {
	if resolution <= 0 {
		resolution = defaultResolution
	}
	return &Manager{
		timers:   make(map[string]*countdown),
		listener: listener,
		res:      resolution,
		stopCh:   make(chan struct{}),
	}
}

// Run launches the shared tick loop. Call once.
func (m *Manager) Run() {
	m.wg.Add(1)
	go m.loop()
}

// Shutdown signals the loop to exit without waiting, so it is safe from
// a TimerExpired callback.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
	m.mu.Unlock()
}

// Wait blocks until the tick loop has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Start begins (or restarts) a countdown.
func (m *Manager) Start(id string, d time.Duration) {
	m.mu.Lock()
	m.timers[id] = &countdown{remaining: d}
	m.mu.Unlock()
}

// Stop removes a countdown without firing it. Returns false if no such
// timer was running.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[id]
	delete(m.timers, id)
	return ok
}

// Pause freezes a countdown in place.
func (m *Manager) Pause(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[id]
	if !ok {
		return false
	}
	t.paused = true
	return true
}

// Resume continues a paused countdown.
func (m *Manager) Resume(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[id]
	if !ok {
		return false
	}
	t.paused = false
	return true
}

// Remaining reports time left on a countdown.
func (m *Manager) Remaining(id string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[id]
	if !ok {
		return 0, false
	}
	return t.remaining, true
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.res)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Advance(m.res)
		}
	}
}

// Advance moves every running countdown forward by d and fires expiries.
// Exported so tests can drive time deterministically.
func (m *Manager) Advance(d time.Duration) {
	var expired []string

	m.mu.Lock()
	for id, t := range m.timers {
		if t.paused {
			continue
		}
		t.remaining -= d
		if t.remaining <= 0 {
			delete(m.timers, id)
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.listener.TimerExpired(id)
	}
}
