// Package storage declares the persistence and collaborator contracts the
// enrolment engine depends on. Implementations live in sub-packages; the
// engine only sees these capability-typed interfaces.
package storage
