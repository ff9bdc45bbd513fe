package onboarding

import "time"

// Metrics defines the interface for tracking onboarding transitions and
// billing reconciliation.
type Metrics interface {
	// RecordTransition records the outcome of a state machine transition.
	// Outcome is one of "ok", "validation", "sequence" or "error".
	RecordTransition(step Step, outcome string)

	// RecordCompletion records a user finishing onboarding.
	RecordCompletion()

	// RecordBillingCall records a billing call made by the state machine, with
	// the policy it ran under and whether it failed.
	RecordBillingCall(op, policy string, err error)

	// RecordWebhookReconcile records how a webhook event was applied
	// ("applied", "stale", "unmatched", "ignored", "error").
	RecordWebhookReconcile(kind, result string)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordTransition(step Step, outcome string)                                 {}
func (n *NoopMetrics) RecordCompletion()                                                          {}
func (n *NoopMetrics) RecordBillingCall(op, policy string, err error)                             {}
func (n *NoopMetrics) RecordWebhookReconcile(kind, result string)                                 {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
