package campaign

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State represents campaign lifecycle state.
type State string

const (
	StateDraft         State = "DRAFT"
	StatePendingCreate State = "PENDING_CREATE"
	StateActive        State = "ACTIVE"
	StateEnded         State = "ENDED"
	StateResolving     State = "RESOLVING"
	StateFinalized     State = "FINALIZED"
	StateCancelled     State = "CANCELLED"
)

// Flavor selects the rule set a campaign runs under.
type Flavor string

const (
	FlavorQuest    Flavor = "QUEST"
	FlavorCoverage Flavor = "COVERAGE"
)

var (
	ErrInvalidTransition = errors.New("invalid campaign state transition")
	ErrNotCreator        = errors.New("caller is not the campaign creator")
)

// ValidationError marks bad input that must never be retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Campaign is the mirror projection of one escrowed campaign. LocalRef is
// assigned before the ledger confirms the create transaction; CanonicalID is
// the ledger-assigned id and stays 0 until confirmation. The two are never
// assumed equal.
type Campaign struct {
	ID          int64      `json:"id"`
	LocalRef    uuid.UUID  `json:"localRef"`
	CanonicalID uint64     `json:"canonicalId"`
	Creator     string     `json:"creator"`
	Flavor      Flavor     `json:"flavor"`
	PayloadRef  string     `json:"payloadRef"`
	Pool        int64      `json:"pool"`
	Deadline    time.Time  `json:"deadline"`
	State       State      `json:"state"`
	Version     int64      `json:"version"`
	EntryCount  int        `json:"entryCount"`
	Winners     []string   `json:"winners,omitempty"`
	FailureNote *string    `json:"failureNote,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

// CanTransitionTo validates a stored-state transition. Ended is derived on
// read and never stored, so Active transitions directly to Resolving here.
func (c *Campaign) CanTransitionTo(target State) bool {
	transitions := map[State][]State{
		StateDraft:         {StatePendingCreate, StateCancelled},
		StatePendingCreate: {StateActive, StateCancelled},
		StateActive:        {StateResolving, StateCancelled},
		StateResolving:     {StateFinalized},
		StateFinalized:     {},
		StateCancelled:     {},
	}
	allowed := transitions[c.State]
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// EffectiveState returns the state as observed at the given instant. A
// campaign whose deadline has passed reads as Ended without any stored
// transition.
func (c *Campaign) EffectiveState(now time.Time) State {
	if c.State == StateActive && now.After(c.Deadline) {
		return StateEnded
	}
	return c.State
}

// AcceptsEntries reports whether an entry may be taken in at the given
// instant.
func (c *Campaign) AcceptsEntries(now time.Time) bool {
	return c.EffectiveState(now) == StateActive
}

// BeginCreate marks the draft as submitted to the ledger.
func (c *Campaign) BeginCreate() error {
	if !c.CanTransitionTo(StatePendingCreate) {
		return ErrInvalidTransition
	}
	c.State = StatePendingCreate
	return nil
}

// Activate promotes the campaign once the ledger confirms creation,
// assigning the canonical id. The confirmed creator must match the
// requester.
func (c *Campaign) Activate(canonicalID uint64, confirmedCreator string) error {
	if !c.CanTransitionTo(StateActive) {
		return ErrInvalidTransition
	}
	if confirmedCreator != c.Creator {
		return fmt.Errorf("confirmed creator %s does not match requester %s: %w", confirmedCreator, c.Creator, ErrNotCreator)
	}
	c.CanonicalID = canonicalID
	c.State = StateActive
	return nil
}

// BeginResolve marks resolution as started. Only valid once the deadline has
// passed; the caller supplies the instant so the derived Ended check and the
// transition are evaluated together.
func (c *Campaign) BeginResolve(now time.Time) error {
	if c.EffectiveState(now) != StateEnded {
		return ErrInvalidTransition
	}
	if !c.CanTransitionTo(StateResolving) {
		return ErrInvalidTransition
	}
	c.State = StateResolving
	return nil
}

// Finalize records the confirmed winner set. Winners may be empty only when
// the flavor permits a zero-winner refund.
func (c *Campaign) Finalize(winners []string, now time.Time) error {
	if !c.CanTransitionTo(StateFinalized) {
		return ErrInvalidTransition
	}
	if len(winners) == 0 && c.Flavor != FlavorQuest {
		return &ValidationError{Field: "winners", Reason: "at least one approved recipient is required"}
	}
	c.State = StateFinalized
	c.Winners = winners
	c.ResolvedAt = &now
	return nil
}

// Cancel soft-deletes the campaign. Refused once resolution has started so a
// resolve/cancel race cannot double-spend the pool.
func (c *Campaign) Cancel() error {
	if !c.CanTransitionTo(StateCancelled) {
		return ErrInvalidTransition
	}
	c.State = StateCancelled
	return nil
}

// Terminal reports whether no further transitions are accepted.
func (c *Campaign) Terminal() bool {
	return c.State == StateFinalized || c.State == StateCancelled
}

// Policy carries the flavor-dependent lifecycle knobs. MinDeadlineBuffer
// guards campaign creation against block-time skew.
type Policy struct {
	Flavor                  Flavor
	MinDeadlineBuffer       time.Duration
	AllowZeroWinners        bool
	SingleEntryPerSubmitter bool
}

// QuestPolicy is the default rule set for prize-escrow campaigns.
func QuestPolicy() Policy {
	return Policy{
		Flavor:                  FlavorQuest,
		MinDeadlineBuffer:       60 * time.Second,
		AllowZeroWinners:        true,
		SingleEntryPerSubmitter: true,
	}
}

// CoveragePolicy is the default rule set for insurance-style campaigns.
func CoveragePolicy() Policy {
	return Policy{
		Flavor:                  FlavorCoverage,
		MinDeadlineBuffer:       60 * time.Second,
		AllowZeroWinners:        false,
		SingleEntryPerSubmitter: false,
	}
}

// ValidateDraft checks creation input against the policy.
func (p Policy) ValidateDraft(pool int64, deadline, now time.Time) error {
	if pool <= 0 {
		return &ValidationError{Field: "pool", Reason: "must be greater than zero"}
	}
	if !deadline.After(now.Add(p.MinDeadlineBuffer)) {
		return &ValidationError{Field: "deadline", Reason: fmt.Sprintf("must be at least %s in the future", p.MinDeadlineBuffer)}
	}
	return nil
}
