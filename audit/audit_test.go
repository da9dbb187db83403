package audit

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureLogger struct {
	mu    sync.Mutex
	warns []string
}

func (c *captureLogger) Infow(string, ...interface{}) {}
func (c *captureLogger) Warnw(msg string, _ ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warns = append(c.warns, msg)
}
func (c *captureLogger) Errorw(string, ...interface{}) {}

func sampleEvent(hash string) Event {
	return Event{
		Time:              time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		RequestID:         "req-1",
		FileHash:          hash,
		Status:            "ok",
		Pages:             3,
		OCRPages:          1,
		DigitalSignatures: true,
		DurationMS:        120,
	}
}

func expectBatch(mock sqlmock.Sqlmock, hashes ...string) {
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO analysis_events")
	for _, h := range hashes {
		prep.ExpectExec().
			WithArgs(sqlmock.AnyArg(), "req-1", h, "ok",
				int64(3), int64(1), int64(1), int64(0), int64(0), int64(120)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()
}

func waitForExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mock.ExpectationsWereMet() == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFlushOnBatchSize(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	expectBatch(mock, "h1", "h2")

	sink := New(db, Config{Interval: time.Hour, BatchSize: 2, QueueSize: 8}, zap.NewNop().Sugar())
	sink.Start()
	sink.Record(sampleEvent("h1"))
	sink.Record(sampleEvent("h2"))

	waitForExpectations(t, mock)

	mock.ExpectClose()
	require.NoError(t, sink.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseDrainsQueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	expectBatch(mock, "h1")
	mock.ExpectClose()

	sink := New(db, Config{Interval: time.Hour, BatchSize: 100, QueueSize: 8}, zap.NewNop().Sugar())
	sink.Start()
	sink.Record(sampleEvent("h1"))

	// the unflushed event must be written before Close returns
	require.NoError(t, sink.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDropsWhenQueueFull(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logs := &captureLogger{}
	sink := New(db, Config{Interval: time.Hour, QueueSize: 1}, logs)
	// not started: the queue fills up and stays full

	sink.Record(sampleEvent("kept"))
	sink.Record(sampleEvent("dropped"))

	logs.mu.Lock()
	defer logs.mu.Unlock()
	require.Len(t, logs.warns, 1)
	assert.True(t, strings.Contains(logs.warns[0], "dropped"))
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS analysis_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	sink := New(db, Config{}, zap.NewNop().Sugar())
	require.NoError(t, sink.EnsureSchema())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNopSink(t *testing.T) {
	var s Sink = Nop{}
	s.Record(sampleEvent("x"))
	assert.NoError(t, s.Close())
}
