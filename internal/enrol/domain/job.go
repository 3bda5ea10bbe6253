package domain

// NotificationJob is the deferred welcome-message payload. It is immutable
// once enqueued and may be delivered more than once.
type NotificationJob struct {
	ID           string
	RuleID       string
	UserID       string
	TargetUnitID string
	SourceUnitID string // the unit whose completion fired the rule
}
