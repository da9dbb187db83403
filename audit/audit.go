// Package audit ships per-analysis event rows to ClickHouse. The sink is
// fire-and-forget: events queue on a bounded channel and a background
// goroutine writes them in batched transactions, so a slow or absent
// warehouse never stalls a request.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go" // registers the "clickhouse" driver
)

// Logger is the slice of a sugared logger the sink needs.
type Logger interface {
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
}

// Event is one finished (or failed) analysis.
type Event struct {
	Time              time.Time
	RequestID         string
	FileHash          string
	Status            string
	Pages             int
	OCRPages          int
	DigitalSignatures bool
	WetSignatures     bool
	Cached            bool
	DurationMS        int64
}

// Sink accepts events. Record must never block.
type Sink interface {
	Record(e Event)
	Close() error
}

// Nop is the sink used when auditing is not configured.
type Nop struct{}

func (Nop) Record(Event) {}
func (Nop) Close() error { return nil }

// Config tunes the batching behavior. Zero values pick the defaults.
type Config struct {
	Table     string        // destination table, default "analysis_events"
	Interval  time.Duration // flush period, default 5s
	BatchSize int           // rows per transaction, default 100
	QueueSize int           // channel capacity, default 1000
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = "analysis_events"
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	return c
}

// ClickHouse is the batching sink. Construct with New, then Start.
type ClickHouse struct {
	db    *sql.DB
	cfg   Config
	log   Logger
	queue chan Event
	stop  chan struct{}
	done  chan struct{}
}

// Open connects to dsn and returns an unstarted sink.
func Open(dsn string, cfg Config, log Logger) (*ClickHouse, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	return New(db, cfg, log), nil
}

// New wraps an existing connection. Call Start to begin flushing.
func New(db *sql.DB, cfg Config, log Logger) *ClickHouse {
	return &ClickHouse{
		db:    db,
		cfg:   cfg.withDefaults(),
		log:   log,
		queue: make(chan Event, cfg.withDefaults().QueueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// EnsureSchema creates the destination table when it does not exist.
func (c *ClickHouse) EnsureSchema() error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts DateTime,
	request_id String,
	file_hash String,
	status String,
	pages Int32,
	ocr_pages Int32,
	digital_signatures UInt8,
	wet_signatures UInt8,
	cached UInt8,
	duration_ms Int64
) ENGINE = MergeTree() ORDER BY ts`, c.cfg.Table)
	if _, err := c.db.Exec(ddl); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// Start launches the flush goroutine.
func (c *ClickHouse) Start() {
	go c.run()
}

// Record queues an event. When the queue is full the event is dropped.
func (c *ClickHouse) Record(e Event) {
	select {
	case c.queue <- e:
	default:
		c.log.Warnw("audit queue full, event dropped (data lost)",
			"file_hash", e.FileHash, "request_id", e.RequestID)
	}
}

// Close stops the flush goroutine after draining the queue.
func (c *ClickHouse) Close() error {
	close(c.stop)
	<-c.done
	return c.db.Close()
}

func (c *ClickHouse) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	batch := make([]Event, 0, c.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.publish(batch); err != nil {
			c.log.Errorw("audit batch write failed (data lost)",
				"rows", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-c.queue:
			batch = append(batch, e)
			if len(batch) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.stop:
			for {
				select {
				case e := <-c.queue:
					batch = append(batch, e)
					if len(batch) >= c.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// publish writes one batch in a single transaction, one Exec per row.
func (c *ClickHouse) publish(batch []Event) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(fmt.Sprintf(
		"INSERT INTO %s (ts, request_id, file_hash, status, pages, ocr_pages, digital_signatures, wet_signatures, cached, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		c.cfg.Table))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	for _, e := range batch {
		if _, err := stmt.Exec(
			e.Time, e.RequestID, e.FileHash, e.Status,
			int32(e.Pages), int32(e.OCRPages),
			boolToUint8(e.DigitalSignatures), boolToUint8(e.WetSignatures),
			boolToUint8(e.Cached), e.DurationMS,
		); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("exec: %w", err)
		}
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close stmt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
