/*
lifecycle.go - Benefit request state machine

STATES:
  pending ──▶ under_review ──▶ approved ──▶ paid
     │              │              ▲
     │              └──▶ rejected  │
     ├─────────────────▶ rejected  │
     └─────────────────────────────┘

  pending | under_review | approved ──▶ cancelled

TERMINAL: paid, rejected, cancelled.

RULES:
  - Only pending or under_review may move to approved/rejected.
  - Only approved may move to paid.
  - cancelled is reachable from any non-terminal state.
  - Setting a request to its current status is rejected, not ignored.

SEE ALSO:
  - engine.go: TransitionRequest applies a transition atomically
*/
package benefit

type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusPaid        Status = "paid"
	StatusCancelled   Status = "cancelled"
)

// ConsumingStatuses are the statuses that count against periodicity and
// balance: the benefit was granted.
var ConsumingStatuses = []Status{StatusApproved, StatusPaid}

var transitions = map[Status][]Status{
	StatusPending:     {StatusUnderReview, StatusApproved, StatusRejected, StatusCancelled},
	StatusUnderReview: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:    {StatusPaid, StatusCancelled},
}

// IsTerminal returns true for paid, rejected and cancelled.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusRejected || s == StatusCancelled
}

// IsKnown returns true for the six lifecycle statuses.
func (s Status) IsKnown() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusApproved, StatusRejected, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Consumes returns true if a request in this status has been granted.
func (s Status) Consumes() bool {
	return s == StatusApproved || s == StatusPaid
}

// ParseStatus accepts the wire names plus the camelCase spelling of
// under_review.
func ParseStatus(s string) (Status, bool) {
	if s == "underReview" {
		return StatusUnderReview, true
	}
	st := Status(s)
	return st, st.IsKnown()
}

// CanTransition returns nil if from -> to is permitted, otherwise a
// *TransitionError.
func CanTransition(id RequestID, from, to Status) error {
	if from == to {
		return &TransitionError{RequestID: id, From: from, To: to, Reentrant: true}
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{RequestID: id, From: from, To: to}
}

// AllowedTransitions lists the statuses reachable from s.
func AllowedTransitions(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}
