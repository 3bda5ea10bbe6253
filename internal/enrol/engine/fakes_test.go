package engine

import (
	"context"
	"time"

	"github.com/coursekit/enrolflow/internal/enrol/domain"
	"github.com/coursekit/enrolflow/internal/enrol/storage"
)

// fakeRuleStore implements storage.RuleStore for tests with configurable
// rules and error injection.
type fakeRuleStore struct {
	rules   []domain.Rule
	listErr error
	findErr error
	deleted []string
}

var _ storage.RuleStore = (*fakeRuleStore)(nil)

func (f *fakeRuleStore) PutRule(context.Context, domain.Rule) error { return nil }

func (f *fakeRuleStore) GetRule(_ context.Context, ruleID string) (domain.Rule, error) {
	for _, rule := range f.rules {
		if rule.ID == ruleID {
			return rule, nil
		}
	}
	return domain.Rule{}, storage.ErrNotFound
}

func (f *fakeRuleStore) ListActiveByTrigger(_ context.Context, triggerUnitID string) ([]domain.Rule, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var matched []domain.Rule
	for _, rule := range f.rules {
		if rule.Active && rule.TriggerUnitID == triggerUnitID {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

func (f *fakeRuleStore) FindByTarget(_ context.Context, targetUnitID string) (domain.Rule, error) {
	if f.findErr != nil {
		return domain.Rule{}, f.findErr
	}
	for _, rule := range f.rules {
		if rule.TargetUnitID == targetUnitID {
			return rule, nil
		}
	}
	return domain.Rule{}, storage.ErrNotFound
}

func (f *fakeRuleStore) DeleteByTarget(_ context.Context, targetUnitID string) (int, error) {
	var kept []domain.Rule
	deleted := 0
	for _, rule := range f.rules {
		if rule.TargetUnitID == targetUnitID {
			deleted++
			f.deleted = append(f.deleted, rule.ID)
			continue
		}
		kept = append(kept, rule)
	}
	f.rules = kept
	return deleted, nil
}

type grantCall struct {
	params storage.GrantParams
}

// fakeMembershipStore records grants keyed by (unit, user).
type fakeMembershipStore struct {
	grants []grantCall
	byKey  map[string]storage.GrantParams
}

var _ storage.MembershipStore = (*fakeMembershipStore)(nil)

func newFakeMembershipStore() *fakeMembershipStore {
	return &fakeMembershipStore{byKey: map[string]storage.GrantParams{}}
}

func (f *fakeMembershipStore) Grant(_ context.Context, params storage.GrantParams) error {
	f.grants = append(f.grants, grantCall{params: params})
	f.byKey[params.UnitID+"/"+params.UserID] = params
	return nil
}

func (f *fakeMembershipStore) GetMembership(_ context.Context, unitID, userID string) (domain.Membership, error) {
	params, ok := f.byKey[unitID+"/"+userID]
	if !ok {
		return domain.Membership{}, storage.ErrNotFound
	}
	return domain.Membership{
		UnitID:     params.UnitID,
		UserID:     params.UserID,
		RoleID:     params.RoleID,
		Status:     domain.MembershipActive,
		ValidFrom:  params.ValidFrom,
		ValidUntil: params.ValidUntil,
	}, nil
}

func (f *fakeMembershipStore) ListExpired(context.Context, time.Time) ([]domain.Membership, error) {
	return nil, nil
}

func (f *fakeMembershipStore) Suspend(context.Context, string, string) error { return nil }

func (f *fakeMembershipStore) Unenrol(context.Context, string, string) error { return nil }

// fakeGroupDirectory mirrors the by-name group model with in-memory maps.
type fakeGroupDirectory struct {
	// groups by unit id, in listing order
	groups map[string][]storage.GroupRecord
	// membership by group id
	members map[string]map[string]bool
	addErr  error
}

var _ storage.GroupDirectory = (*fakeGroupDirectory)(nil)

func newFakeGroupDirectory() *fakeGroupDirectory {
	return &fakeGroupDirectory{
		groups:  map[string][]storage.GroupRecord{},
		members: map[string]map[string]bool{},
	}
}

func (f *fakeGroupDirectory) addGroup(group storage.GroupRecord) {
	f.groups[group.UnitID] = append(f.groups[group.UnitID], group)
}

func (f *fakeGroupDirectory) addMember(groupID, userID string) {
	if f.members[groupID] == nil {
		f.members[groupID] = map[string]bool{}
	}
	f.members[groupID][userID] = true
}

func (f *fakeGroupDirectory) ListUserGroups(_ context.Context, unitID, userID string) ([]storage.GroupRecord, error) {
	var memberships []storage.GroupRecord
	for _, group := range f.groups[unitID] {
		if f.members[group.ID][userID] {
			memberships = append(memberships, group)
		}
	}
	return memberships, nil
}

func (f *fakeGroupDirectory) FindGroupByName(_ context.Context, unitID, name string) (storage.GroupRecord, error) {
	for _, group := range f.groups[unitID] {
		if group.Name == name {
			return group, nil
		}
	}
	return storage.GroupRecord{}, storage.ErrNotFound
}

func (f *fakeGroupDirectory) AddGroupMember(_ context.Context, groupID, userID string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.addMember(groupID, userID)
	return nil
}

// fakeUnitDirectory resolves units from a fixed set.
type fakeUnitDirectory struct {
	units map[string]storage.UnitRecord
}

var _ storage.UnitDirectory = (*fakeUnitDirectory)(nil)

func newFakeUnitDirectory(ids ...string) *fakeUnitDirectory {
	units := map[string]storage.UnitRecord{}
	for _, unitID := range ids {
		units[unitID] = storage.UnitRecord{ID: unitID, Name: "Unit " + unitID}
	}
	return &fakeUnitDirectory{units: units}
}

func (f *fakeUnitDirectory) UnitExists(_ context.Context, unitID string) (bool, error) {
	_, ok := f.units[unitID]
	return ok, nil
}

func (f *fakeUnitDirectory) GetUnit(_ context.Context, unitID string) (storage.UnitRecord, error) {
	unit, ok := f.units[unitID]
	if !ok {
		return storage.UnitRecord{}, storage.ErrNotFound
	}
	return unit, nil
}

// fakeRoleDirectory resolves roles from a fixed set.
type fakeRoleDirectory struct {
	roles map[string]bool
}

var _ storage.RoleDirectory = (*fakeRoleDirectory)(nil)

func newFakeRoleDirectory(ids ...string) *fakeRoleDirectory {
	roles := map[string]bool{}
	for _, roleID := range ids {
		roles[roleID] = true
	}
	return &fakeRoleDirectory{roles: roles}
}

func (f *fakeRoleDirectory) RoleExists(_ context.Context, roleID string) (bool, error) {
	return f.roles[roleID], nil
}

// fakeJobQueue records enqueued notification jobs.
type fakeJobQueue struct {
	jobs       []domain.NotificationJob
	enqueueErr error
}

var _ storage.JobQueue = (*fakeJobQueue)(nil)

func (f *fakeJobQueue) Enqueue(_ context.Context, job domain.NotificationJob) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.jobs = append(f.jobs, job)
	return nil
}

// fakeAccessCache records dirty-marked users.
type fakeAccessCache struct {
	dirty []string
}

var _ storage.AccessCache = (*fakeAccessCache)(nil)

func (f *fakeAccessCache) MarkUserDirty(_ context.Context, userID string) error {
	f.dirty = append(f.dirty, userID)
	return nil
}

// flakyMembershipStore fails the first N grants, then delegates.
type flakyMembershipStore struct {
	inner    *fakeMembershipStore
	failures int
	err      error
}

var _ storage.MembershipStore = (*flakyMembershipStore)(nil)

func (f *flakyMembershipStore) Grant(ctx context.Context, params storage.GrantParams) error {
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return f.inner.Grant(ctx, params)
}

func (f *flakyMembershipStore) GetMembership(ctx context.Context, unitID, userID string) (domain.Membership, error) {
	return f.inner.GetMembership(ctx, unitID, userID)
}

func (f *flakyMembershipStore) ListExpired(ctx context.Context, now time.Time) ([]domain.Membership, error) {
	return f.inner.ListExpired(ctx, now)
}

func (f *flakyMembershipStore) Suspend(ctx context.Context, unitID, userID string) error {
	return f.inner.Suspend(ctx, unitID, userID)
}

func (f *flakyMembershipStore) Unenrol(ctx context.Context, unitID, userID string) error {
	return f.inner.Unenrol(ctx, unitID, userID)
}

func domainGroup(groupID, unitID, name string) storage.GroupRecord {
	return storage.GroupRecord{ID: groupID, UnitID: unitID, Name: name}
}

type engineFixture struct {
	rules       *fakeRuleStore
	memberships *fakeMembershipStore
	groups      *fakeGroupDirectory
	units       *fakeUnitDirectory
	roles       *fakeRoleDirectory
	queue       *fakeJobQueue
	cache       *fakeAccessCache
	engine      *Engine
}

func newEngineFixture(rules []domain.Rule, unitIDs []string, roleIDs []string) *engineFixture {
	fixture := &engineFixture{
		rules:       &fakeRuleStore{rules: rules},
		memberships: newFakeMembershipStore(),
		groups:      newFakeGroupDirectory(),
		units:       newFakeUnitDirectory(unitIDs...),
		roles:       newFakeRoleDirectory(roleIDs...),
		queue:       &fakeJobQueue{},
		cache:       &fakeAccessCache{},
	}
	fixture.engine = New(Stores{
		Rules:       fixture.rules,
		Memberships: fixture.memberships,
		Groups:      fixture.groups,
		Units:       fixture.units,
		Roles:       fixture.roles,
		Queue:       fixture.queue,
		AccessCache: fixture.cache,
	})
	return fixture
}
