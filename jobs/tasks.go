package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/vitalis-health/vitalis/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditRecord delivers non-critical audit entries off the request path.
	TaskAuditRecord = "audit:record"
	// TaskGrantIntegrityScan checks the grant relations for orphaned rows.
	TaskGrantIntegrityScan = "rbac:integrity_scan"
)

// NewAuditRecordTask constructs an Asynq task carrying an audit entry.
func NewAuditRecordTask(entry audit.Entry) (*asynq.Task, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRecord, data), nil
}

// NewGrantIntegrityScanTask constructs the scheduled integrity scan task.
func NewGrantIntegrityScanTask() *asynq.Task {
	return asynq.NewTask(TaskGrantIntegrityScan, nil)
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueAuditEntry implements audit.Enqueuer.
func (c *Client) EnqueueAuditEntry(ctx context.Context, entry audit.Entry) error {
	task, err := NewAuditRecordTask(entry)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// NewAuditRecordHandler processes TaskAuditRecord tasks by writing through
// the synchronous audit logger.
func NewAuditRecordHandler(logger *audit.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var entry audit.Entry
		if err := json.Unmarshal(t.Payload(), &entry); err != nil {
			return asynq.SkipRetry
		}
		return logger.Record(ctx, entry)
	}
}
