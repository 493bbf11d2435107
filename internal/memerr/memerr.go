// Package memerr defines the error taxonomy shared by every Memorose
// component: validation, capacity, not-leader, timeout, transient-IO,
// external, fatal-invariant, rejected, and unavailable. Nothing in this
// package limits which kinds reach a client; httpapi's error envelope
// renders whichever kind it is handed.
package memerr

import "fmt"

// Kind is the taxonomy tag surfaced to API clients.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindCapacity       Kind = "capacity"
	KindNotLeader      Kind = "not_leader"
	KindTimeout        Kind = "timeout"
	KindTransientIO    Kind = "transient_io"
	KindExternal       Kind = "external"
	KindFatalInvariant Kind = "fatal_invariant"
	KindRejected       Kind = "rejected"
	KindUnavailable    Kind = "unavailable"
)

// Error is the common shape for every taxonomy member. Components should
// construct one of the typed helpers below rather than this directly.
type Error struct {
	Kind       Kind
	Reason     string
	LeaderHint string // only meaningful for KindNotLeader
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Validation(reason string, err error) *Error  { return new_(KindValidation, reason, err) }
func Capacity(reason string, err error) *Error    { return new_(KindCapacity, reason, err) }
func Timeout(reason string, err error) *Error     { return new_(KindTimeout, reason, err) }
func TransientIO(reason string, err error) *Error { return new_(KindTransientIO, reason, err) }
func External(reason string, err error) *Error    { return new_(KindExternal, reason, err) }
func Rejected(reason string) *Error               { return new_(KindRejected, reason, nil) }
func Unavailable(reason string, err error) *Error { return new_(KindUnavailable, reason, err) }

// NotLeader records the hint a proposer should retry against.
func NotLeader(leaderHint string) *Error {
	return &Error{Kind: KindNotLeader, Reason: "not the shard leader", LeaderHint: leaderHint}
}

// FatalInvariant marks state the apply loop cannot safely continue past:
// corrupt log, mismatched snapshot, embedding-dimension drift. Callers at
// the apply-loop boundary are expected to panic on this.
func FatalInvariant(reason string, err error) *Error {
	return new_(KindFatalInvariant, reason, err)
}

// LeaderHint extracts the redirect target from a NotLeader error, or ""
// if err isn't one (or carries no hint).
func LeaderHint(err error) string {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	if e == nil || e.Kind != KindNotLeader {
		return ""
	}
	return e.LeaderHint
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
