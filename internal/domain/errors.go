package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound covers missing tasks, handshakes, contracts, and agents.
var ErrNotFound = errors.New("not found")

// ErrAuthRejected is returned when the room token does not match.
var ErrAuthRejected = errors.New("auth rejected: invalid room token")

// UnreadBlockedError is the unread-gate failure: the sender must drain its
// inbox before sending. Recoverable by calling check_inbox.
type UnreadBlockedError struct {
	Count int
}

func (e *UnreadBlockedError) Error() string {
	return fmt.Sprintf("BLOCKED: You have %d unread message(s). Call check_inbox first.", e.Count)
}

// AmbiguousRecipientError is returned when a short recipient name matches
// more than one team-qualified agent.
type AmbiguousRecipientError struct {
	Name    string
	Matches []string
}

func (e *AmbiguousRecipientError) Error() string {
	return fmt.Sprintf("ambiguous recipient %q: matches %s (use the team-qualified name)",
		e.Name, strings.Join(e.Matches, ", "))
}

// InvalidTransitionError is a task state-machine violation. Valid enumerates
// the allowed next states from the current one.
type InvalidTransitionError struct {
	TaskID string
	From   string
	To     string
	Valid  []string
}

func (e *InvalidTransitionError) Error() string {
	if len(e.Valid) == 0 {
		return fmt.Sprintf("invalid transition for %s: %s is terminal", e.TaskID, e.From)
	}
	return fmt.Sprintf("invalid transition for %s: %s -> %s (valid next states: %s)",
		e.TaskID, e.From, e.To, strings.Join(e.Valid, ", "))
}

// UnauthorizedError is a lead-only or assignee-only operation invoked by the
// wrong actor.
type UnauthorizedError struct {
	Actor string
	Need  string // "lead" or "assignee"
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %q is not the %s for this operation", e.Actor, e.Need)
}

// InvalidKindError is a contract kind outside the closed set.
type InvalidKindError struct {
	Kind string
}

func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("invalid contract kind %q (valid: %s)", e.Kind, strings.Join(ContractKinds, ", "))
}

// ErrNoActiveMinion is a minion status update with no live spawned entry.
var ErrNoActiveMinion = errors.New("no active minion to update")
