package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type expiryRecorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *expiryRecorder) TimerExpired(id string) {
	r.mu.Lock()
	r.fired = append(r.fired, id)
	r.mu.Unlock()
}

func (r *expiryRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fired...)
}

func TestCountdownExpires(t *testing.T) {
	r := &expiryRecorder{}
	m := NewManager(r, time.Hour) // tests drive the clock themselves

	m.Start("scene-intro", 2*time.Second)
	m.Advance(time.Second)
	assert.Empty(t, r.all())

	left, ok := m.Remaining("scene-intro")
	assert.True(t, ok)
	assert.Equal(t, time.Second, left)

	m.Advance(time.Second)
	assert.Equal(t, []string{"scene-intro"}, r.all())

	_, ok = m.Remaining("scene-intro")
	assert.False(t, ok, "expired timer must be removed")
}

func TestStopCancelsWithoutFiring(t *testing.T) {
	r := &expiryRecorder{}
	m := NewManager(r, time.Hour)

	m.Start("scene-vault", time.Second)
	assert.True(t, m.Stop("scene-vault"))
	assert.False(t, m.Stop("scene-vault"))

	m.Advance(time.Minute)
	assert.Empty(t, r.all())
}

func TestPauseAndResume(t *testing.T) {
	r := &expiryRecorder{}
	m := NewManager(r, time.Hour)

	m.Start("scene-gears", 2*time.Second)
	assert.True(t, m.Pause("scene-gears"))

	m.Advance(time.Minute)
	left, ok := m.Remaining("scene-gears")
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, left, "paused countdown must not move")

	assert.True(t, m.Resume("scene-gears"))
	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"scene-gears"}, r.all())
}

func TestPauseUnknownTimer(t *testing.T) {
	m := NewManager(&expiryRecorder{}, time.Hour)
	assert.False(t, m.Pause("nope"))
	assert.False(t, m.Resume("nope"))
}

func TestRestartResetsCountdown(t *testing.T) {
	r := &expiryRecorder{}
	m := NewManager(r, time.Hour)

	m.Start("scene-intro", 2*time.Second)
	m.Advance(time.Second)
	m.Start("scene-intro", 5*time.Second)

	left, _ := m.Remaining("scene-intro")
	assert.Equal(t, 5*time.Second, left)
}

func TestShutdownStopsLoop(t *testing.T) {
	m := NewManager(&expiryRecorder{}, time.Millisecond)
	m.Run()
	m.Shutdown()
	m.Wait()
	// Second Shutdown is a no-op, not a double close.
	m.Shutdown()
}
