package domain

import (
	"strings"

	apperrors "github.com/coursekit/enrolflow/internal/platform/errors"
)

// CompletionSignal is the transient unit-completion event consumed by the engine.
type CompletionSignal struct {
	UnitID string
	UserID string
}

// NormalizeCompletionSignal trims and validates a completion signal.
func NormalizeCompletionSignal(signal CompletionSignal) (CompletionSignal, error) {
	signal.UnitID = strings.TrimSpace(signal.UnitID)
	signal.UserID = strings.TrimSpace(signal.UserID)
	if signal.UnitID == "" {
		return CompletionSignal{}, apperrors.New(apperrors.CodeSignalEmptyUnit, "completion unit id is required")
	}
	if signal.UserID == "" {
		return CompletionSignal{}, apperrors.New(apperrors.CodeSignalEmptyUser, "completion user id is required")
	}
	return signal, nil
}
