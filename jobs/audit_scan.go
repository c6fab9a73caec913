package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-crm/meridian-crm/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ChangeCounter reports role changes per user over a window. Implemented by
// the audit repository.
type ChangeCounter interface {
	CountByUserSince(ctx context.Context, interval string) (map[string]int64, error)
}

// AuditScanJob flags users whose role assignments churn unusually fast. A
// burst of assigns and unassigns on one account is the usual signature of a
// compromised admin session.
type AuditScanJob struct {
	Counter ChangeCounter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditScanJob initialises the anomaly scan handler.
func NewAuditScanJob(counter ChangeCounter, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditScanJob {
	return &AuditScanJob{
		Counter: counter,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the anomaly scan logic.
func (j *AuditScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("audit scan: handler not configured")
	}
	var payload AuditScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowHours <= 0 {
		payload.WindowHours = 24
	}
	if payload.Threshold <= 0 {
		payload.Threshold = 10
	}

	start := j.now()
	tracker := j.metrics().Track(TaskRoleAuditScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.Int("window_hours", payload.WindowHours),
		slog.Int64("threshold", payload.Threshold),
	)
	logger.Info("starting role audit scan")

	scanned, flagged, err := j.scan(ctx, payload)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	for _, a := range flagged {
		logger.Warn("role change anomaly detected",
			slog.String("user_id", a.UserID),
			slog.String("severity", a.Severity),
			slog.Int64("changes", a.Changes),
		)
		j.metrics().AddAnomalies(a.Severity, 1)
	}

	logger.Info("completed role audit scan",
		slog.Int("users", scanned),
		slog.Int("flagged", len(flagged)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

type changeAnomaly struct {
	UserID   string
	Severity string
	Changes  int64
}

func (j *AuditScanJob) scan(ctx context.Context, payload AuditScanPayload) (int, []changeAnomaly, error) {
	if j.Counter == nil {
		return 0, nil, errors.New("audit scan: counter not configured")
	}
	interval := fmt.Sprintf("%d hours", payload.WindowHours)
	counts, err := j.Counter.CountByUserSince(ctx, interval)
	if err != nil {
		return 0, nil, err
	}

	flagged := make([]changeAnomaly, 0)
	for userID, changes := range counts {
		severity := ""
		switch {
		case changes >= payload.Threshold*2:
			severity = "HIGH"
		case changes >= payload.Threshold:
			severity = "MEDIUM"
		default:
			continue
		}
		flagged = append(flagged, changeAnomaly{UserID: userID, Severity: severity, Changes: changes})
	}
	return len(counts), flagged, nil
}

func (j *AuditScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRoleAuditScan))
	}
	return slog.Default().With(slog.String("job", TaskRoleAuditScan))
}

func (j *AuditScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AuditScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
