// Package engine implements the completion-triggered enrolment cascade.
//
// The engine reacts to unit-completion signals: it resolves matching rules,
// grants time-bounded memberships in each rule's target unit, mirrors
// same-named sub-group membership from the completed unit, enqueues deferred
// welcome notifications, and invalidates cached per-user access state.
//
// Failure handling is deliberately soft. A rule with a missing role or unit
// is skipped with a tagged outcome; a collaborator failure for one rule never
// aborts its siblings; nothing is raised back to the event bus.
package engine
