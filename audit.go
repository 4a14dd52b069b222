package ticketflow

import (
	"database/sql"
	"fmt"

	"github.com/sasha-s/go-deadlock"

	_ "modernc.org/sqlite"
)

// Recorder is an append-only audit sink. Record must never fail the caller:
// sink errors are swallowed and surfaced out-of-band, never propagated into
// workflow failure.
type Recorder interface {
	Record(entry LogEntry)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(entry LogEntry)

// Record implements Recorder.
func (f RecorderFunc) Record(entry LogEntry) { f(entry) }

// MultiRecorder fans entries out to several sinks. A panicking sink is
// isolated from its siblings and from the workflow.
type MultiRecorder struct {
	mu    deadlock.RWMutex
	sinks []Recorder
}

// NewMultiRecorder creates a fan-out recorder over the given sinks.
func NewMultiRecorder(sinks ...Recorder) *MultiRecorder {
	return &MultiRecorder{sinks: sinks}
}

// Attach adds a sink.
func (m *MultiRecorder) Attach(sink Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// Record implements Recorder.
func (m *MultiRecorder) Record(entry LogEntry) {
	m.mu.RLock()
	sinks := make([]Recorder, len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.RUnlock()

	for _, sink := range sinks {
		func() {
			defer func() { _ = recover() }()
			sink.Record(entry)
		}()
	}
}

// LoggerRecorder writes every entry through a Logger at debug level.
type LoggerRecorder struct {
	Logger Logger
}

// Record implements Recorder.
func (r *LoggerRecorder) Record(entry LogEntry) {
	if r.Logger == nil {
		return
	}
	r.Logger.Debug("audit: run=%s stage=%s ability=%s attempt=%d outcome=%s duration=%dms",
		entry.RunID, entry.Stage, entry.Ability, entry.Attempt, entry.Outcome, entry.DurationMS)
}

// SQLiteRecorder persists audit entries to a sqlite database so the log
// survives the process. Write failures are counted and reported through the
// logger, never returned to the workflow.
type SQLiteRecorder struct {
	mu      deadlock.Mutex
	db      *sql.DB
	logger  Logger
	dropped int64
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	ts             TEXT NOT NULL,
	stage          TEXT NOT NULL,
	ability        TEXT NOT NULL,
	classification TEXT,
	attempt        INTEGER,
	outcome        TEXT NOT NULL,
	retried        INTEGER NOT NULL DEFAULT 0,
	detail         TEXT,
	duration_ms    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_run ON audit_log(run_id);
`

// NewSQLiteRecorder opens (or creates) the audit database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteRecorder(path string, logger Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}
	// Writes serialize anyway; a single connection also keeps ":memory:"
	// databases from splitting across pool connections.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &SQLiteRecorder{db: db, logger: logger}, nil
}

// Record implements Recorder.
func (r *SQLiteRecorder) Record(entry LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(
		`INSERT INTO audit_log (id, run_id, ts, stage, ability, classification, attempt, outcome, retried, detail, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RunID, entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		string(entry.Stage), entry.Ability, string(entry.Classification),
		entry.Attempt, entry.Outcome, boolToInt(entry.Retried), entry.Detail, entry.DurationMS,
	)
	if err != nil {
		r.dropped++
		r.logger.Warn("audit: dropped entry %s: %v", entry.ID, err)
	}
}

// Dropped reports how many entries failed to persist.
func (r *SQLiteRecorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// CountForRun returns how many entries are stored for a run.
func (r *SQLiteRecorder) CountForRun(runID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM audit_log WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// Close releases the underlying database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
