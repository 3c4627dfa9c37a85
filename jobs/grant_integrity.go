package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalis-health/vitalis/internal/audit"
	"github.com/vitalis-health/vitalis/internal/rbac"
)

// GrantIntegrityJob scans the grant relations for rows referencing catalog
// entries that no longer exist. The engine performs its own cascades in a
// transaction, so orphans indicate an external writer bypassing it. The
// resolver already treats orphans as absent; this job makes the condition
// visible and flushes caches that may have been computed around it.
type GrantIntegrityJob struct {
	Pool    *pgxpool.Pool
	Cache   *rbac.Cache
	Sink    audit.Recorder
	Logger  *slog.Logger
	Metrics *Metrics
}

// NewGrantIntegrityJob initialises the scan handler.
func NewGrantIntegrityJob(pool *pgxpool.Pool, cache *rbac.Cache, sink audit.Recorder, logger *slog.Logger, metrics *Metrics) *GrantIntegrityJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantIntegrityJob{Pool: pool, Cache: cache, Sink: sink, Logger: logger, Metrics: metrics}
}

// Handle executes the integrity scan.
func (j *GrantIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("grant integrity: handler not configured")
	}
	tracker := j.Metrics.Track(TaskGrantIntegrityScan)
	counts := map[string]int64{}
	queries := map[string]string{
		"role_permissions": `SELECT COUNT(*) FROM role_permissions rp
			LEFT JOIN permissions p ON p.id = rp.permission_id
			LEFT JOIN roles r ON r.id = rp.role_id
			WHERE p.id IS NULL OR r.id IS NULL`,
		"user_permissions": `SELECT COUNT(*) FROM user_permissions up
			LEFT JOIN permissions p ON p.id = up.permission_id
			LEFT JOIN users u ON u.id = up.user_id
			WHERE p.id IS NULL OR u.id IS NULL`,
		"user_roles": `SELECT COUNT(*) FROM user_roles ur
			LEFT JOIN roles r ON r.id = ur.role_id
			LEFT JOIN users u ON u.id = ur.user_id
			WHERE r.id IS NULL OR u.id IS NULL`,
	}
	var total int64
	for relation, query := range queries {
		var n int64
		if err := j.Pool.QueryRow(ctx, query).Scan(&n); err != nil {
			return tracker.End(err)
		}
		counts[relation] = n
		total += n
		j.Metrics.AddOrphans(relation, n)
	}
	if total == 0 {
		j.Logger.Info("grant integrity scan clean", slog.String("job", TaskGrantIntegrityScan))
		return tracker.End(nil)
	}

	j.Logger.Warn("grant integrity scan found orphaned rows",
		slog.Int64("total", total),
		slog.Int64("role_permissions", counts["role_permissions"]),
		slog.Int64("user_permissions", counts["user_permissions"]),
		slog.Int64("user_roles", counts["user_roles"]))
	if err := j.Cache.InvalidateAll(ctx); err != nil {
		j.Logger.Error("grant integrity cache flush", slog.Any("error", err))
	}
	if j.Sink != nil {
		meta := map[string]any{}
		for relation, n := range counts {
			meta[relation] = n
		}
		entry := audit.Entry{
			Action:        "rbac.integrity.orphaned_grants",
			Entity:        "grants",
			EntityID:      strconv.FormatInt(total, 10),
			Meta:          meta,
			SecurityAlert: true,
		}
		if err := j.Sink.Record(ctx, entry); err != nil {
			j.Logger.Error("grant integrity audit record", slog.Any("error", err))
		}
	}
	return tracker.End(nil)
}
