package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/coursekit/enrolflow/internal/enrol/domain"
	"github.com/coursekit/enrolflow/internal/enrol/storage"
	apperrors "github.com/coursekit/enrolflow/internal/platform/errors"
	"github.com/coursekit/enrolflow/internal/platform/id"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/coursekit/enrolflow/internal/enrol/engine"

// Stores bundles the collaborators the engine needs.
type Stores struct {
	Rules       storage.RuleStore
	Memberships storage.MembershipStore
	Groups      storage.GroupDirectory
	Units       storage.UnitDirectory
	Roles       storage.RoleDirectory
	Queue       storage.JobQueue
	AccessCache storage.AccessCache
}

// Engine applies the enrolment cascade for completion signals.
type Engine struct {
	stores Stores
	clock  func() time.Time
	idGen  func() (string, error)
	tracer trace.Tracer
}

// New creates an engine with default clock and id generation.
func New(stores Stores) *Engine {
	return &Engine{
		stores: stores,
		clock:  time.Now,
		idGen:  id.NewID,
		tracer: otel.Tracer(tracerName),
	}
}

// SetClock overrides the engine's time source for deterministic tests.
func (e *Engine) SetClock(clock func() time.Time) {
	if clock != nil {
		e.clock = clock
	}
}

// SetIDGenerator overrides notification job id generation.
func (e *Engine) SetIDGenerator(idGen func() (string, error)) {
	if idGen != nil {
		e.idGen = idGen
	}
}

// OnCompletion runs the cascade for every active rule triggered by the
// completed unit. Rules are independent: ordering between them is not
// guaranteed and one rule's failure never aborts the others. The returned
// outcomes are for observability only.
func (e *Engine) OnCompletion(ctx context.Context, signal domain.CompletionSignal) ([]domain.Outcome, error) {
	if e == nil {
		return nil, fmt.Errorf("engine is not configured")
	}
	signal, err := domain.NormalizeCompletionSignal(signal)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "enrol.cascade", trace.WithAttributes(
		attribute.String("enrol.unit_id", signal.UnitID),
		attribute.String("enrol.user_id", signal.UserID),
	))
	defer span.End()

	rules, err := e.stores.Rules.ListActiveByTrigger(ctx, signal.UnitID)
	if err != nil {
		return nil, fmt.Errorf("list rules for unit %s: %w", signal.UnitID, err)
	}

	outcomes := make([]domain.Outcome, 0, len(rules))
	for _, rule := range rules {
		outcomes = append(outcomes, e.applyRule(ctx, rule, signal))
	}
	span.SetAttributes(attribute.Int("enrol.rules_matched", len(rules)))
	return outcomes, nil
}

// applyRule performs one rule's grant + group-mirror + notify cascade.
func (e *Engine) applyRule(ctx context.Context, rule domain.Rule, signal domain.CompletionSignal) domain.Outcome {
	roleOK, err := e.stores.Roles.RoleExists(ctx, rule.RoleID)
	if err != nil {
		return e.failed(rule, fmt.Errorf("check role %s: %w", rule.RoleID, err))
	}
	if !roleOK {
		// Developer-facing diagnostic; the cascade continues with siblings.
		log.Printf("rule %s: role or course does not exist", rule.ID)
		return domain.Outcome{
			RuleID: rule.ID,
			Status: domain.OutcomeSkippedMissingRole,
			Err:    apperrors.New(apperrors.CodeRuleRoleMissing, "role does not exist"),
		}
	}

	targetOK, err := e.stores.Units.UnitExists(ctx, rule.TargetUnitID)
	if err != nil {
		return e.failed(rule, fmt.Errorf("check unit %s: %w", rule.TargetUnitID, err))
	}
	triggerOK, err := e.stores.Units.UnitExists(ctx, rule.TriggerUnitID)
	if err != nil {
		return e.failed(rule, fmt.Errorf("check unit %s: %w", rule.TriggerUnitID, err))
	}
	if !targetOK || !triggerOK {
		// Missing units are handled by upstream consistency checks; skip
		// without a diagnostic.
		return domain.Outcome{
			RuleID: rule.ID,
			Status: domain.OutcomeSkippedMissingUnit,
			Err:    apperrors.New(apperrors.CodeRuleUnitMissing, "unit does not exist"),
		}
	}

	validFrom, validUntil := rule.Window(e.clock())
	if err := e.stores.Memberships.Grant(ctx, storage.GrantParams{
		UnitID:     rule.TargetUnitID,
		UserID:     signal.UserID,
		RoleID:     rule.RoleID,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
	}); err != nil {
		return e.failed(rule, fmt.Errorf("grant membership: %w", err))
	}

	if rule.NotifyOnGrant {
		jobID, err := e.idGen()
		if err != nil {
			return e.failed(rule, fmt.Errorf("generate job id: %w", err))
		}
		if err := e.stores.Queue.Enqueue(ctx, domain.NotificationJob{
			ID:           jobID,
			RuleID:       rule.ID,
			UserID:       signal.UserID,
			TargetUnitID: rule.TargetUnitID,
			SourceUnitID: signal.UnitID,
		}); err != nil {
			return e.failed(rule, fmt.Errorf("enqueue notification: %w", err))
		}
	}

	if err := e.mirrorGroups(ctx, rule, signal); err != nil {
		return e.failed(rule, err)
	}

	if err := e.stores.AccessCache.MarkUserDirty(ctx, signal.UserID); err != nil {
		return e.failed(rule, fmt.Errorf("invalidate user access: %w", err))
	}

	return domain.Outcome{RuleID: rule.ID, Status: domain.OutcomeGranted}
}

// mirrorGroups copies sub-group membership from the completed unit into the
// target unit, matching groups purely by display name. Names without a
// counterpart in the target unit are skipped without diagnostic.
func (e *Engine) mirrorGroups(ctx context.Context, rule domain.Rule, signal domain.CompletionSignal) error {
	groups, err := e.stores.Groups.ListUserGroups(ctx, signal.UnitID, signal.UserID)
	if err != nil {
		return fmt.Errorf("list user groups: %w", err)
	}
	for _, group := range groups {
		counterpart, err := e.stores.Groups.FindGroupByName(ctx, rule.TargetUnitID, group.Name)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("resolve group %q: %w", group.Name, err)
		}
		if err := e.stores.Groups.AddGroupMember(ctx, counterpart.ID, signal.UserID); err != nil {
			return fmt.Errorf("add member to group %q: %w", group.Name, err)
		}
	}
	return nil
}

// OnUnitDeleted deletes every rule targeting the unit. Rules triggering on
// it are intentionally left alone; they become permanently unreachable.
func (e *Engine) OnUnitDeleted(ctx context.Context, unitID string) error {
	if e == nil {
		return fmt.Errorf("engine is not configured")
	}
	deleted, err := e.stores.Rules.DeleteByTarget(ctx, unitID)
	if err != nil {
		return fmt.Errorf("delete rules for unit %s: %w", unitID, err)
	}
	if deleted > 0 {
		log.Printf("unit %s deleted: removed %d enrolment rules", unitID, deleted)
	}
	return nil
}

func (e *Engine) failed(rule domain.Rule, err error) domain.Outcome {
	log.Printf("rule %s: cascade failed: %v", rule.ID, err)
	return domain.Outcome{RuleID: rule.ID, Status: domain.OutcomeFailed, Err: err}
}
