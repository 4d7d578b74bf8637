package strata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	timerRetry TimerID = 1
	timerPoll  TimerID = 2
)

func TestStartTimerUnbound(t *testing.T) {
	m := CreateToggleMachine()
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	err := m.StartTimer(timerRetry, time.Second, true)
	require.Error(t, err)
	assert.Equal(t, ErrCodeTimerUnbound, GetErrorCode(err))
}

func TestStartTimerBeforeInitialize(t *testing.T) {
	m := CreateToggleMachine()
	m.RegisterTimer(timerRetry, "e")

	err := m.StartTimer(timerRetry, time.Second, true)
	require.Error(t, err)
	assert.Equal(t, ErrCodeNotInitialized, GetErrorCode(err))
}

func TestTimerFirePostsBoundEvent(t *testing.T) {
	m := CreateToggleMachine()
	m.RegisterTimer(timerRetry, "e")

	d := NewImmediateDispatcher()
	require.NoError(t, m.Initialize(d))
	defer m.Release()

	require.NoError(t, m.StartTimer(timerRetry, 10*time.Millisecond, true))
	assert.True(t, d.IsTimerArmed(timerRetry))
	assert.True(t, m.IsTimerRunning(timerRetry))

	d.FireTimer(timerRetry)

	AssertCurrentState(t, m, "B")
}

func TestSingleShotTimerStopsAfterFire(t *testing.T) {
	m := CreateToggleMachine()
	m.RegisterTimer(timerRetry, "e")

	d := NewImmediateDispatcher()
	require.NoError(t, m.Initialize(d))
	defer m.Release()

	require.NoError(t, m.StartTimer(timerRetry, 10*time.Millisecond, true))
	d.FireTimer(timerRetry)

	assert.False(t, m.IsTimerRunning(timerRetry))

	// a late expiry of a finished single-shot timer is ignored
	d.FireTimer(timerRetry)
	AssertCurrentState(t, m, "B")
}

func TestRepeatingTimerKeepsRunning(t *testing.T) {
	m := CreateToggleMachine()
	m.RegisterTimer(timerPoll, "e")

	d := NewImmediateDispatcher()
	require.NoError(t, m.Initialize(d))
	defer m.Release()

	require.NoError(t, m.StartTimer(timerPoll, 10*time.Millisecond, false))

	d.FireTimer(timerPoll)
	assert.True(t, m.IsTimerRunning(timerPoll))
	d.FireTimer(timerPoll)

	AssertCurrentState(t, m, "A")
}

func TestStopTimer(t *testing.T) {
	m := CreateToggleMachine()
	m.RegisterTimer(timerRetry, "e")

	d := NewImmediateDispatcher()
	require.NoError(t, m.Initialize(d))
	defer m.Release()

	require.NoError(t, m.StartTimer(timerRetry, 10*time.Millisecond, false))
	m.StopTimer(timerRetry)

	assert.False(t, d.IsTimerArmed(timerRetry))
	assert.False(t, m.IsTimerRunning(timerRetry))

	d.FireTimer(timerRetry)
	AssertCurrentState(t, m, "A")
}

func TestStopUnknownTimerIsIgnored(t *testing.T) {
	m := CreateToggleMachine()
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.StopTimer(99)
}

func TestRestartTimer(t *testing.T) {
	m := CreateToggleMachine()
	m.RegisterTimer(timerRetry, "e")

	d := NewImmediateDispatcher()
	require.NoError(t, m.Initialize(d))
	defer m.Release()

	err := m.RestartTimer(timerRetry)
	require.Error(t, err, "restart needs an interval from a previous start")

	require.NoError(t, m.StartTimer(timerRetry, 10*time.Millisecond, true))
	m.StopTimer(timerRetry)

	require.NoError(t, m.RestartTimer(timerRetry))
	assert.True(t, m.IsTimerRunning(timerRetry))
}

func TestRegisterTimerRebindsEvent(t *testing.T) {
	m := New[string, string]("A")
	m.RegisterTransition("A", "B", "first", nil, nil)
	m.RegisterTransition("A", "C", "second", nil, nil)
	m.RegisterTimer(timerRetry, "first")
	m.RegisterTimer(timerRetry, "second")

	d := NewImmediateDispatcher()
	require.NoError(t, m.Initialize(d))
	defer m.Release()

	require.NoError(t, m.StartTimer(timerRetry, 10*time.Millisecond, true))
	d.FireTimer(timerRetry)

	AssertCurrentState(t, m, "C")
}
