package analyze

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docpipe/docscan/logging"
	"github.com/docpipe/docscan/metrics"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("analyze: job not found")

// ErrQueueFull is returned when the job queue cannot take another job.
var ErrQueueFull = errors.New("analyze: job queue full")

// JobState is the lifecycle position of a job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCanceled  JobState = "canceled"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCanceled
}

// Job is the wire-visible job document.
type Job struct {
	ID         string     `json:"job_id"`
	State      JobState   `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Report     *Report    `json:"report,omitempty"`
}

type job struct {
	snapshot Job
	data     []byte
	opts     Options
	cancel   context.CancelFunc
	watchers map[chan Job]struct{}
}

// Manager runs analyses asynchronously on a fixed worker pool.
type Manager struct {
	analyzer *Analyzer
	log      *zap.SugaredLogger
	ttl      time.Duration

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
	jobs   map[string]*job
	queue  chan string
}

// NewManager starts workers goroutines plus a janitor that evicts terminal
// jobs after ttl.
func NewManager(a *Analyzer, workers, queueSize int, ttl time.Duration, log *zap.SugaredLogger) *Manager {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		analyzer: a,
		log:      log,
		ttl:      ttl,
		baseCtx:  ctx,
		stop:     cancel,
		jobs:     make(map[string]*job),
		queue:    make(chan string, queueSize),
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.wg.Add(1)
	go m.janitor()
	return m
}

// Submit queues an analysis and returns the pending job document.
func (m *Manager) Submit(data []byte, opts Options) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Job{}, errors.New("analyze: manager closed")
	}

	j := &job{
		snapshot: Job{
			ID:        uuid.NewString(),
			State:     JobPending,
			CreatedAt: time.Now().UTC(),
		},
		data:     data,
		opts:     opts,
		watchers: make(map[chan Job]struct{}),
	}
	select {
	case m.queue <- j.snapshot.ID:
	default:
		return Job{}, ErrQueueFull
	}
	m.jobs[j.snapshot.ID] = j
	metrics.JobEnqueued()
	return j.snapshot, nil
}

// Get returns the current job document.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j.snapshot, nil
}

// Cancel cancels a pending or running job. Canceling a terminal job is a
// no-op that returns the current document.
func (m *Manager) Cancel(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	switch j.snapshot.State {
	case JobPending:
		m.finishLocked(j, JobCanceled, "", nil)
	case JobRunning:
		if j.cancel != nil {
			j.cancel()
		}
		// the worker observes the canceled context and finishes the job
	}
	return j.snapshot, nil
}

// Watch streams job documents until the job reaches a terminal state, then
// closes the channel. The current snapshot is delivered first. The returned
// stop function unregisters the watcher.
func (m *Manager) Watch(id string) (<-chan Job, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil, ErrJobNotFound
	}

	ch := make(chan Job, 8)
	ch <- j.snapshot
	if j.snapshot.State.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}
	j.watchers[ch] = struct{}{}
	stop := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, live := j.watchers[ch]; live {
			delete(j.watchers, ch)
			close(ch)
		}
	}
	return ch, stop, nil
}

// Close cancels running jobs and waits for the workers to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	m.stop()
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for id := range m.queue {
		m.run(id)
	}
}

func (m *Manager) run(id string) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok || j.snapshot.State != JobPending {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	j.cancel = cancel
	j.snapshot.State = JobRunning
	m.notifyLocked(j)
	data, opts := j.data, j.opts
	m.mu.Unlock()
	defer cancel()

	rep, err := m.analyzer.Analyze(ctx, data, opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case ctx.Err() != nil:
		m.finishLocked(j, JobCanceled, "", nil)
	case err != nil:
		m.finishLocked(j, JobFailed, err.Error(), nil)
	default:
		m.finishLocked(j, JobSucceeded, "", rep)
	}
}

// finishLocked moves a job to a terminal state, notifies watchers and closes
// their channels. Caller holds m.mu.
func (m *Manager) finishLocked(j *job, state JobState, errMsg string, rep *Report) {
	if j.snapshot.State.Terminal() {
		return
	}
	now := time.Now().UTC()
	j.snapshot.State = state
	j.snapshot.FinishedAt = &now
	j.snapshot.Error = errMsg
	j.snapshot.Report = rep
	j.data = nil
	m.notifyLocked(j)
	for ch := range j.watchers {
		close(ch)
		delete(j.watchers, ch)
	}
	metrics.JobFinished()
	m.log.Infow("job finished", "job_id", j.snapshot.ID, "state", state)
}

// notifyLocked pushes the snapshot to every watcher without blocking; a slow
// watcher misses intermediate states but always sees the terminal one,
// because channels hold more slots than state transitions.
func (m *Manager) notifyLocked(j *job) {
	for ch := range j.watchers {
		select {
		case ch <- j.snapshot:
		default:
		}
	}
}

func (m *Manager) janitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictStale()
		case <-m.baseCtx.Done():
			return
		}
	}
}

func (m *Manager) evictStale() {
	cutoff := time.Now().UTC().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, j := range m.jobs {
		if j.snapshot.State.Terminal() && j.snapshot.FinishedAt != nil && j.snapshot.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}
