package domain

// OutcomeStatus tags the result of processing one rule in a cascade.
type OutcomeStatus string

const (
	// OutcomeGranted means the membership was created or refreshed.
	OutcomeGranted OutcomeStatus = "granted"
	// OutcomeSkippedMissingRole means the rule's role no longer exists.
	OutcomeSkippedMissingRole OutcomeStatus = "skipped_missing_role"
	// OutcomeSkippedMissingUnit means the trigger or target unit no longer exists.
	OutcomeSkippedMissingUnit OutcomeStatus = "skipped_missing_unit"
	// OutcomeFailed means a collaborator call failed; sibling rules still run.
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome records what happened to one rule during a cascade. Outcomes are
// aggregated for observability, never raised to the event bus.
type Outcome struct {
	RuleID string
	Status OutcomeStatus
	Err    error
}
