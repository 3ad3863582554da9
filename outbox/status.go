package outbox

import "fmt"

// OutboxEventState is the lifecycle state of an outbox entry. Values are
// stored and compared numerically; they must never be renumbered, since the
// integer encoding is part of the on-disk contract shared with direct SQL
// readers and migrations already written against it.
type OutboxEventState int

const (
	// NotPublished is the initial state of a newly persisted outbox entry.
	NotPublished OutboxEventState = 0
	// InProgress marks an entry claimed by a publisher attempt.
	InProgress OutboxEventState = 1
	// Published marks an entry the broker has accepted.
	Published OutboxEventState = 2
	// PublishedFailed marks an entry whose publish attempt failed; eligible for retry.
	PublishedFailed OutboxEventState = 3
)

// ParseOutboxEventState validates and converts a raw integer state.
func ParseOutboxEventState(raw int) (OutboxEventState, error) {
	state := OutboxEventState(raw)

	if !state.IsValid() {
		return 0, fmt.Errorf("%w: %d", ErrOutboxStatusInvalid, raw)
	}

	return state, nil
}

// IsValid reports whether the state is part of the outbox lifecycle.
func (state OutboxEventState) IsValid() bool {
	switch state {
	case NotPublished, InProgress, Published, PublishedFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from state to next is allowed.
//
//	NotPublished    -> InProgress
//	InProgress      -> Published | PublishedFailed
//	PublishedFailed -> InProgress
//	Published       -> (terminal)
func (state OutboxEventState) CanTransitionTo(next OutboxEventState) bool {
	switch state {
	case NotPublished:
		return next == InProgress
	case InProgress:
		return next == Published || next == PublishedFailed
	case PublishedFailed:
		return next == InProgress
	case Published:
		return false
	default:
		return false
	}
}

// ValidateOutboxTransition validates a state transition using the typed lifecycle rules.
func ValidateOutboxTransition(fromRaw, toRaw int) error {
	from, err := ParseOutboxEventState(fromRaw)
	if err != nil {
		return fmt.Errorf("from state: %w", err)
	}

	to, err := ParseOutboxEventState(toRaw)
	if err != nil {
		return fmt.Errorf("to state: %w", err)
	}

	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrOutboxTransitionInvalid, from, to)
	}

	return nil
}

func (state OutboxEventState) String() string {
	switch state {
	case NotPublished:
		return "NotPublished"
	case InProgress:
		return "InProgress"
	case Published:
		return "Published"
	case PublishedFailed:
		return "PublishedFailed"
	default:
		return "Unknown"
	}
}
