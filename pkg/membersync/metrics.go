package membersync

import "time"

// Metrics defines the interface for tracking synchronization activity.
type Metrics interface {
	// RecordRosterUpload records an upload attempt and the number of accepted records.
	RecordRosterUpload(records int, success bool)

	// RecordReconcile records the outcome and duration of a reconciliation pass.
	RecordReconcile(outcome Outcome, duration time.Duration)

	// RecordClaim records an external ID claim ("linked", "duplicate", "invalid", "error").
	RecordClaim(result string)

	// RecordNotice records an administrator notice delivery attempt.
	RecordNotice(kind string, delivered bool)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordRosterUpload(records int, success bool)                               {}
func (n *NoopMetrics) RecordReconcile(outcome Outcome, duration time.Duration)                    {}
func (n *NoopMetrics) RecordClaim(result string)                                                  {}
func (n *NoopMetrics) RecordNotice(kind string, delivered bool)                                   {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
