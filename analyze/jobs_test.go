package analyze

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForState(t *testing.T, m *Manager, id string, want JobState) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := m.Get(id)
		require.NoError(t, err)
		if j.State == want {
			return j
		}
		if j.State.Terminal() && want != j.State {
			t.Fatalf("job reached %s while waiting for %s (error: %s)", j.State, want, j.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached state %s", id, want)
	return Job{}
}

func TestJobLifecycleSucceeded(t *testing.T) {
	m := NewManager(&Analyzer{}, 1, 4, time.Hour, nil)
	defer m.Close()

	j, err := m.Submit(helloPDF(t), Options{ThresholdChars: 0})
	require.NoError(t, err)
	assert.Equal(t, JobPending, j.State)
	assert.NotEmpty(t, j.ID)

	done := waitForState(t, m, j.ID, JobSucceeded)
	require.NotNil(t, done.Report)
	assert.Equal(t, "ok", done.Report.Status)
	assert.Empty(t, done.Error)
	require.NotNil(t, done.FinishedAt)
}

func TestJobFailure(t *testing.T) {
	m := NewManager(&Analyzer{}, 1, 4, time.Hour, nil)
	defer m.Close()

	j, err := m.Submit([]byte("garbage"), Options{ThresholdChars: 0})
	require.NoError(t, err)

	done := waitForState(t, m, j.ID, JobFailed)
	assert.NotEmpty(t, done.Error)
	assert.Nil(t, done.Report)
}

func TestJobUnknownID(t *testing.T) {
	m := NewManager(&Analyzer{}, 1, 4, time.Hour, nil)
	defer m.Close()

	_, err := m.Get("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = m.Cancel("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, _, err = m.Watch("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobCancelWhileRunning(t *testing.T) {
	// the renderer parks the page pipeline until the job context dies
	blocked := &fakeRenderer{available: true, blockCtx: true}
	a := &Analyzer{OCREnabled: true, Renderer: blocked, Engine: &fakeEngine{}}
	m := NewManager(a, 1, 4, time.Hour, nil)
	defer m.Close()

	j, err := m.Submit(helloPDF(t), Options{ThresholdChars: 1000})
	require.NoError(t, err)

	waitForState(t, m, j.ID, JobRunning)
	_, err = m.Cancel(j.ID)
	require.NoError(t, err)

	done := waitForState(t, m, j.ID, JobCanceled)
	assert.Nil(t, done.Report)
}

func TestJobCancelWhileQueued(t *testing.T) {
	blocked := &fakeRenderer{available: true, blockCtx: true}
	a := &Analyzer{OCREnabled: true, Renderer: blocked, Engine: &fakeEngine{}}
	m := NewManager(a, 1, 4, time.Hour, nil)
	defer m.Close()

	// occupy the single worker
	first, err := m.Submit(helloPDF(t), Options{ThresholdChars: 1000})
	require.NoError(t, err)
	waitForState(t, m, first.ID, JobRunning)

	queued, err := m.Submit(helloPDF(t), Options{ThresholdChars: 1000})
	require.NoError(t, err)

	canceled, err := m.Cancel(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCanceled, canceled.State)

	_, err = m.Cancel(first.ID)
	require.NoError(t, err)
	waitForState(t, m, first.ID, JobCanceled)
}

func TestJobCancelTerminalIsIdempotent(t *testing.T) {
	m := NewManager(&Analyzer{}, 1, 4, time.Hour, nil)
	defer m.Close()

	j, err := m.Submit(helloPDF(t), Options{ThresholdChars: 0})
	require.NoError(t, err)
	waitForState(t, m, j.ID, JobSucceeded)

	again, err := m.Cancel(j.ID)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, again.State)
}

func TestWatchDeliversTerminalState(t *testing.T) {
	m := NewManager(&Analyzer{}, 1, 4, time.Hour, nil)
	defer m.Close()

	j, err := m.Submit(helloPDF(t), Options{ThresholdChars: 0})
	require.NoError(t, err)

	ch, stop, err := m.Watch(j.ID)
	require.NoError(t, err)
	defer stop()

	var last Job
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				require.True(t, last.State.Terminal(), "channel closed before a terminal state, last %s", last.State)
				assert.Equal(t, JobSucceeded, last.State)
				return
			}
			last = snap
		case <-deadline:
			t.Fatal("watch never delivered a terminal state")
		}
	}
}

func TestQueueFull(t *testing.T) {
	blocked := &fakeRenderer{available: true, blockCtx: true}
	a := &Analyzer{OCREnabled: true, Renderer: blocked, Engine: &fakeEngine{}}
	m := NewManager(a, 1, 1, time.Hour, nil)
	defer m.Close()

	first, err := m.Submit(helloPDF(t), Options{ThresholdChars: 1000})
	require.NoError(t, err)
	waitForState(t, m, first.ID, JobRunning)

	// worker busy, one slot: second fills the queue, third must bounce
	_, err = m.Submit(helloPDF(t), Options{ThresholdChars: 1000})
	require.NoError(t, err)
	_, err = m.Submit(helloPDF(t), Options{ThresholdChars: 1000})
	assert.ErrorIs(t, err, ErrQueueFull)

	_, _ = m.Cancel(first.ID)
}
