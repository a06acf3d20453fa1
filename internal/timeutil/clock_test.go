package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClockAfterFuncFiresOnAdvance(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	fired := 0
	c.AfterFunc(time.Second, func() { fired++ })

	c.Advance(500 * time.Millisecond)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, c.PendingTimers())

	c.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, c.PendingTimers())

	c.Advance(time.Hour)
	assert.Equal(t, 1, fired, "timer must fire once")
}

func TestMockClockStoppedTimerDoesNotFire(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports inactive")

	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestMockClockRunsTimersInDeadlineOrder(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	var order []int
	c.AfterFunc(300*time.Millisecond, func() { order = append(order, 3) })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, 1) })
	c.AfterFunc(200*time.Millisecond, func() { order = append(order, 2) })

	c.Advance(time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestMockClockSleepRecordsOnly(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewMockClock(start)
	c.Sleep(time.Millisecond)
	c.Sleep(2 * time.Millisecond)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, c.Sleeps())
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(100 * time.Millisecond)
	defer tk.Stop()

	c.Advance(100 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("expected tick")
	}
}

func TestRealClockAfterFunc(t *testing.T) {
	done := make(chan struct{})
	RealClock{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
}
