package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRoleAuditScan is the task type for the role change anomaly scan.
	TaskRoleAuditScan = "roles:audit_scan"
)

// AuditScanPayload tunes the role change anomaly scan.
type AuditScanPayload struct {
	WindowHours int   `json:"window_hours"`
	Threshold   int64 `json:"threshold"`
}

// NewAuditScanTask constructs an Asynq task for the anomaly scan.
func NewAuditScanTask(windowHours int, threshold int64) (*asynq.Task, error) {
	data, err := json.Marshal(AuditScanPayload{WindowHours: windowHours, Threshold: threshold})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRoleAuditScan, data), nil
}
