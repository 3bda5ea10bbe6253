package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/coursekit/enrolflow/internal/enrol/domain"
	"github.com/coursekit/enrolflow/internal/enrol/storage"
)

// PathResolver walks the chain of trigger-unit links behind a rule to
// produce a displayable dependency path. The walk is advisory: a cycle
// truncates the path instead of erroring, and the result has no side
// effects on membership.
type PathResolver struct {
	rules storage.RuleStore
}

// NewPathResolver creates a resolver over the given rule store.
func NewPathResolver(rules storage.RuleStore) *PathResolver {
	return &PathResolver{rules: rules}
}

// BuildPath returns the ordered unit chain ending at the rule's target:
// the target unit first, then each trigger unit reached by following the
// rule (if any) whose target equals the current unit. Traversal stops when
// no rule links further or when a unit would repeat.
func (r *PathResolver) BuildPath(ctx context.Context, rule domain.Rule) ([]string, error) {
	if r == nil || r.rules == nil {
		return nil, fmt.Errorf("rule store is not configured")
	}

	path := []string{rule.TargetUnitID}
	seen := map[string]bool{rule.TargetUnitID: true}
	current := rule

	for {
		next := current.TriggerUnitID
		if seen[next] {
			// Cycle: stop here, the truncated path is still displayable.
			return path, nil
		}
		path = append(path, next)
		seen[next] = true

		linked, err := r.rules.FindByTarget(ctx, next)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return path, nil
			}
			return nil, fmt.Errorf("resolve rule for unit %s: %w", next, err)
		}
		current = linked
	}
}
