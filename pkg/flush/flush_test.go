package flush

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTickerScheduler_FiresUntilCancelled(t *testing.T) {
	s := NewTickerScheduler(time.Millisecond)
	var n atomic.Int64
	s.ScheduleFlush(func() { n.Add(1) })
	require.True(t, s.Active())

	require.Eventually(t, func() bool { return n.Load() >= 3 }, 2*time.Second, time.Millisecond)

	s.CancelFlush()
	require.False(t, s.Active())
	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, n.Load())
}

func TestTickerScheduler_CancelWaitsForRunningFlush(t *testing.T) {
	s := NewTickerScheduler(time.Millisecond)
	entered := make(chan struct{}, 1)
	var finished atomic.Bool
	s.ScheduleFlush(func() {
		select {
		case entered <- struct{}{}:
		default:
		}
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("flush never ran")
	}
	s.CancelFlush()
	require.True(t, finished.Load())
}

func TestTickerScheduler_RescheduleReplacesCallback(t *testing.T) {
	s := NewTickerScheduler(time.Millisecond)
	var a, b atomic.Int64
	s.ScheduleFlush(func() { a.Add(1) })
	require.Eventually(t, func() bool { return a.Load() > 0 }, 2*time.Second, time.Millisecond)

	s.ScheduleFlush(func() { b.Add(1) })
	frozen := a.Load()
	require.Eventually(t, func() bool { return b.Load() > 0 }, 2*time.Second, time.Millisecond)
	s.CancelFlush()
	require.Equal(t, frozen, a.Load())
}

func TestTickerScheduler_CancelIdleIsNoop(t *testing.T) {
	s := NewTickerScheduler(0)
	require.Equal(t, DefaultInterval, s.Interval())
	s.CancelFlush()
	s.CancelFlush()
	s.ScheduleFlush(nil)
	require.False(t, s.Active())
}

func TestManualScheduler(t *testing.T) {
	s := NewManualScheduler()
	require.False(t, s.Fire())

	n := 0
	s.ScheduleFlush(func() { n++ })
	require.True(t, s.Active())
	require.True(t, s.Fire())
	require.True(t, s.Fire())
	require.Equal(t, 2, n)

	s.CancelFlush()
	s.CancelFlush()
	require.False(t, s.Active())
	require.False(t, s.Fire())
	scheduled, cancelled := s.Counts()
	require.Equal(t, 1, scheduled)
	require.Equal(t, 1, cancelled)
}
