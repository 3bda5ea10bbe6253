// Package domain defines the core entities for completion-triggered enrolment.
//
// The model is centered around a few concepts:
//
// # Rule
//
// A Rule links a trigger unit to a target unit: when a user completes the
// trigger unit, the user is granted a role in the target unit for a
// configurable validity window, optionally with a welcome notification.
//
// # CompletionSignal
//
// A CompletionSignal is the transient event consumed by the cascade engine.
// It is never persisted; each delivery is processed once.
//
// # Membership
//
// A Membership is a user's time-bounded role assignment within a unit. The
// cascade engine creates and refreshes memberships; the expiration sweeper
// suspends or removes those past their end date.
//
// # NotificationJob
//
// A NotificationJob is the immutable payload enqueued for deferred welcome
// delivery. The queue guarantees at-least-once execution, so rendering must
// tolerate duplicates.
package domain
