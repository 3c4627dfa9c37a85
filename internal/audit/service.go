// Package audit persists security-relevant events as immutable log entries.
// Recording is fire-and-forget from the engine's point of view: a failed
// write is logged, never surfaced to the mutation that triggered it.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry represents a record stored in audit_logs.
type Entry struct {
	ActorID       int64          `json:"actor_id"`
	Action        string         `json:"action"`
	Entity        string         `json:"entity"`
	EntityID      string         `json:"entity_id"`
	Meta          map[string]any `json:"meta,omitempty"`
	SecurityAlert bool           `json:"security_alert"`
	At            time.Time      `json:"at"`
}

// Recorder accepts audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Logger writes entries into audit_logs synchronously.
type Logger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewLogger returns a new Logger.
func NewLogger(pool *pgxpool.Pool, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{pool: pool, logger: logger}
}

// Record persists the log entry.
func (l *Logger) Record(ctx context.Context, entry Entry) error {
	if l == nil || l.pool == nil {
		return errors.New("audit: logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" {
		return errors.New("audit: entry requires action and entity")
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, is_security_alert, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, metaJSON, entry.SecurityAlert, entry.At)
	return err
}

// Enqueuer submits entries for asynchronous delivery. Implemented by the
// jobs client.
type Enqueuer interface {
	EnqueueAuditEntry(ctx context.Context, entry Entry) error
}

// AsyncRecorder queues ordinary entries for background delivery while
// writing security alerts synchronously, so refused mutations are on disk
// before the refusal returns.
type AsyncRecorder struct {
	queue  Enqueuer
	direct *Logger
	logger *slog.Logger
}

// NewAsyncRecorder constructs an AsyncRecorder. With a nil queue every entry
// is written directly.
func NewAsyncRecorder(queue Enqueuer, direct *Logger, logger *slog.Logger) *AsyncRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncRecorder{queue: queue, direct: direct, logger: logger}
}

// Record routes the entry to the queue or the synchronous writer.
func (r *AsyncRecorder) Record(ctx context.Context, entry Entry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	if entry.SecurityAlert || r.queue == nil {
		return r.direct.Record(ctx, entry)
	}
	if err := r.queue.EnqueueAuditEntry(ctx, entry); err != nil {
		r.logger.Warn("audit: enqueue failed, writing directly", slog.Any("error", err))
		return r.direct.Record(ctx, entry)
	}
	return nil
}
