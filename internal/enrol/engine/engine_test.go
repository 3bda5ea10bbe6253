package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coursekit/enrolflow/internal/enrol/domain"
	apperrors "github.com/coursekit/enrolflow/internal/platform/errors"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixClock(e *Engine) {
	e.SetClock(func() time.Time { return fixedTime })
	sequence := 0
	e.SetIDGenerator(func() (string, error) {
		sequence++
		return "job" + string(rune('0'+sequence)), nil
	})
}

func TestOnCompletionGrantsTimedMembershipAndNotifies(t *testing.T) {
	fixture := newEngineFixture([]domain.Rule{{
		ID:            "r1",
		TriggerUnitID: "c2",
		TargetUnitID:  "c1",
		RoleID:        "student-role",
		Duration:      300000 * time.Second,
		NotifyOnGrant: true,
		Active:        true,
	}}, []string{"c1", "c2"}, []string{"student-role"})
	fixClock(fixture.engine)

	outcomes, err := fixture.engine.OnCompletion(context.Background(), domain.CompletionSignal{UnitID: "c2", UserID: "userA"})
	if err != nil {
		t.Fatalf("on completion: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != domain.OutcomeGranted {
		t.Fatalf("expected one granted outcome, got %+v", outcomes)
	}

	membership, err := fixture.memberships.GetMembership(context.Background(), "c1", "userA")
	if err != nil {
		t.Fatalf("get membership: %v", err)
	}
	if membership.RoleID != "student-role" {
		t.Fatalf("unexpected role %q", membership.RoleID)
	}
	if !membership.ValidFrom.Equal(fixedTime) {
		t.Fatalf("expected valid-from now, got %v", membership.ValidFrom)
	}
	if membership.ValidUntil == nil || !membership.ValidUntil.Equal(fixedTime.Add(300000*time.Second)) {
		t.Fatalf("expected valid-until now+300000s, got %v", membership.ValidUntil)
	}

	if len(fixture.queue.jobs) != 1 {
		t.Fatalf("expected exactly one notification job, got %d", len(fixture.queue.jobs))
	}
	job := fixture.queue.jobs[0]
	if job.RuleID != "r1" || job.UserID != "userA" || job.TargetUnitID != "c1" || job.SourceUnitID != "c2" {
		t.Fatalf("unexpected job payload: %+v", job)
	}

	if len(fixture.cache.dirty) != 1 || fixture.cache.dirty[0] != "userA" {
		t.Fatalf("expected user access invalidated, got %+v", fixture.cache.dirty)
	}
}

func TestOnCompletionSkipsMissingRoleWithoutSideEffects(t *testing.T) {
	fixture := newEngineFixture([]domain.Rule{{
		ID:            "r1",
		TriggerUnitID: "c2",
		TargetUnitID:  "c1",
		RoleID:        "9999",
		NotifyOnGrant: true,
		Active:        true,
	}}, []string{"c1", "c2"}, []string{"student-role"})
	fixClock(fixture.engine)

	outcomes, err := fixture.engine.OnCompletion(context.Background(), domain.CompletionSignal{UnitID: "c2", UserID: "userA"})
	if err != nil {
		t.Fatalf("on completion: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != domain.OutcomeSkippedMissingRole {
		t.Fatalf("expected skipped-missing-role, got %+v", outcomes)
	}
	if !errors.Is(outcomes[0].Err, apperrors.New(apperrors.CodeRuleRoleMissing, "")) {
		t.Fatalf("expected missing-role code on outcome, got %v", outcomes[0].Err)
	}
	if len(fixture.memberships.grants) != 0 {
		t.Fatalf("expected no membership created, got %+v", fixture.memberships.grants)
	}
	if len(fixture.queue.jobs) != 0 {
		t.Fatalf("expected no job enqueued, got %+v", fixture.queue.jobs)
	}
	if len(fixture.cache.dirty) != 0 {
		t.Fatalf("expected no cache invalidation, got %+v", fixture.cache.dirty)
	}
}

func TestOnCompletionSkipsMissingUnitSilently(t *testing.T) {
	tests := []struct {
		name  string
		units []string
	}{
		{"missing target", []string{"c2"}},
		{"missing trigger", []string{"c1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fixture := newEngineFixture([]domain.Rule{{
				ID:            "r1",
				TriggerUnitID: "c2",
				TargetUnitID:  "c1",
				RoleID:        "student-role",
				Active:        true,
			}}, tc.units, []string{"student-role"})
			fixClock(fixture.engine)

			outcomes, err := fixture.engine.OnCompletion(context.Background(), domain.CompletionSignal{UnitID: "c2", UserID: "userA"})
			if err != nil {
				t.Fatalf("on completion: %v", err)
			}
			if len(outcomes) != 1 || outcomes[0].Status != domain.OutcomeSkippedMissingUnit {
				t.Fatalf("expected skipped-missing-unit, got %+v", outcomes)
			}
			if !errors.Is(outcomes[0].Err, apperrors.New(apperrors.CodeRuleUnitMissing, "")) {
				t.Fatalf("expected missing-unit code on outcome, got %v", outcomes[0].Err)
			}
			if len(fixture.memberships.grants) != 0 {
				t.Fatalf("expected no membership created, got %+v", fixture.memberships.grants)
			}
		})
	}
}

func TestOnCompletionIsIdempotent(t *testing.T) {
	fixture := newEngineFixture([]domain.Rule{{
		ID:            "r1",
		TriggerUnitID: "c2",
		TargetUnitID:  "c1",
		RoleID:        "student-role",
		Duration:      time.Hour,
		Active:        true,
	}}, []string{"c1", "c2"}, []string{"student-role"})
	fixClock(fixture.engine)
	signal := domain.CompletionSignal{UnitID: "c2", UserID: "userA"}

	if _, err := fixture.engine.OnCompletion(context.Background(), signal); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if _, err := fixture.engine.OnCompletion(context.Background(), signal); err != nil {
		t.Fatalf("second completion: %v", err)
	}

	// The grant is an upsert, so the second signal refreshes rather than
	// duplicates the membership.
	if len(fixture.memberships.byKey) != 1 {
		t.Fatalf("expected a single membership record, got %d", len(fixture.memberships.byKey))
	}
	membership, err := fixture.memberships.GetMembership(context.Background(), "c1", "userA")
	if err != nil {
		t.Fatalf("get membership: %v", err)
	}
	if membership.ValidUntil == nil || !membership.ValidUntil.Equal(fixedTime.Add(time.Hour)) {
		t.Fatalf("expected refreshed window, got %v", membership.ValidUntil)
	}
}

func TestOnCompletionMirrorsGroupsByName(t *testing.T) {
	fixture := newEngineFixture([]domain.Rule{{
		ID:            "r1",
		TriggerUnitID: "c2",
		TargetUnitID:  "c1",
		RoleID:        "student-role",
		Active:        true,
	}}, []string{"c1", "c2"}, []string{"student-role"})
	fixClock(fixture.engine)

	fixture.groups.addGroup(domainGroup("g2", "c2", "A group"))
	fixture.groups.addGroup(domainGroup("g1", "c1", "A group"))
	fixture.groups.addGroup(domainGroup("g3", "c2", "No counterpart"))
	fixture.groups.addMember("g2", "userA")
	fixture.groups.addMember("g3", "userA")

	if _, err := fixture.engine.OnCompletion(context.Background(), domain.CompletionSignal{UnitID: "c2", UserID: "userA"}); err != nil {
		t.Fatalf("on completion: %v", err)
	}

	if !fixture.groups.members["g1"]["userA"] {
		t.Fatal("expected user mirrored into the same-named target group")
	}
	// Groups with no same-named counterpart are skipped without error.
	for groupID, members := range fixture.groups.members {
		if groupID != "g1" && groupID != "g2" && groupID != "g3" && members["userA"] {
			t.Fatalf("unexpected group membership in %s", groupID)
		}
	}
}

func TestOnCompletionContinuesAfterRuleFailure(t *testing.T) {
	fixture := newEngineFixture([]domain.Rule{
		{ID: "r1", TriggerUnitID: "c2", TargetUnitID: "c1", RoleID: "student-role", Active: true},
		{ID: "r2", TriggerUnitID: "c2", TargetUnitID: "c3", RoleID: "student-role", Active: true},
	}, []string{"c1", "c2", "c3"}, []string{"student-role"})
	fixClock(fixture.engine)

	// First grant fails, second succeeds: no cross-rule rollback.
	fixture.engine.stores.Memberships = &flakyMembershipStore{
		inner:    fixture.memberships,
		failures: 1,
		err:      errors.New("membership store down"),
	}

	outcomes, err := fixture.engine.OnCompletion(context.Background(), domain.CompletionSignal{UnitID: "c2", UserID: "userA"})
	if err != nil {
		t.Fatalf("on completion: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected two outcomes, got %+v", outcomes)
	}
	var failed, granted int
	for _, outcome := range outcomes {
		switch outcome.Status {
		case domain.OutcomeFailed:
			failed++
		case domain.OutcomeGranted:
			granted++
		}
	}
	if failed != 1 || granted != 1 {
		t.Fatalf("expected one failure and one grant, got %+v", outcomes)
	}
}

func TestOnCompletionRejectsEmptySignal(t *testing.T) {
	fixture := newEngineFixture(nil, nil, nil)
	fixClock(fixture.engine)

	if _, err := fixture.engine.OnCompletion(context.Background(), domain.CompletionSignal{UserID: "userA"}); err == nil {
		t.Fatal("expected error for empty unit id")
	}
	if _, err := fixture.engine.OnCompletion(context.Background(), domain.CompletionSignal{UnitID: "c2"}); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestOnUnitDeletedRemovesTargetRulesOnly(t *testing.T) {
	fixture := newEngineFixture([]domain.Rule{
		{ID: "r1", TriggerUnitID: "c2", TargetUnitID: "c1", RoleID: "student-role", Active: true},
		{ID: "r2", TriggerUnitID: "c1", TargetUnitID: "c3", RoleID: "student-role", Active: true},
	}, []string{"c1", "c2", "c3"}, []string{"student-role"})

	if err := fixture.engine.OnUnitDeleted(context.Background(), "c1"); err != nil {
		t.Fatalf("on unit deleted: %v", err)
	}
	if len(fixture.rules.deleted) != 1 || fixture.rules.deleted[0] != "r1" {
		t.Fatalf("expected only r1 deleted, got %+v", fixture.rules.deleted)
	}
	// r2 merely triggers on the deleted unit and must survive.
	if len(fixture.rules.rules) != 1 || fixture.rules.rules[0].ID != "r2" {
		t.Fatalf("expected r2 to remain, got %+v", fixture.rules.rules)
	}
}
