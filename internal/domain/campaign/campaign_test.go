package campaign

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newActive(deadline time.Time) *Campaign {
	return &Campaign{
		LocalRef:    uuid.New(),
		CanonicalID: 7,
		Creator:     "acct:creator",
		Flavor:      FlavorQuest,
		Pool:        100,
		Deadline:    deadline,
		State:       StateActive,
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Campaign{
		LocalRef: uuid.New(),
		Creator:  "acct:creator",
		Flavor:   FlavorQuest,
		Pool:     100,
		Deadline: now.Add(2 * time.Hour),
		State:    StateDraft,
	}

	if err := c.BeginCreate(); err != nil {
		t.Fatalf("begin create: %v", err)
	}
	if err := c.Activate(42, "acct:creator"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if c.CanonicalID != 42 {
		t.Fatalf("canonical id not assigned: %d", c.CanonicalID)
	}

	afterDeadline := now.Add(3 * time.Hour)
	if got := c.EffectiveState(afterDeadline); got != StateEnded {
		t.Fatalf("expected derived ENDED, got %s", got)
	}
	if err := c.BeginResolve(afterDeadline); err != nil {
		t.Fatalf("begin resolve: %v", err)
	}
	if err := c.Finalize([]string{"acct:w1"}, afterDeadline); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !c.Terminal() {
		t.Fatalf("expected terminal state, got %s", c.State)
	}
}

func TestNoRegressionAfterFinalized(t *testing.T) {
	now := time.Now().UTC()
	c := newActive(now.Add(-time.Hour))
	c.State = StateResolving
	if err := c.Finalize([]string{"acct:w1"}, now); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := c.Cancel(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition after finalize, got %v", err)
	}
	if err := c.BeginResolve(now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition after finalize, got %v", err)
	}
	if err := c.BeginCreate(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition after finalize, got %v", err)
	}
}

func TestActivateRejectsSpoofedCreator(t *testing.T) {
	c := &Campaign{LocalRef: uuid.New(), Creator: "acct:creator", State: StatePendingCreate}
	if err := c.Activate(9, "acct:attacker"); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("expected creator mismatch, got %v", err)
	}
	if c.State != StatePendingCreate {
		t.Fatalf("state changed on rejected activation: %s", c.State)
	}
}

func TestEndedIsDerivedNotStored(t *testing.T) {
	now := time.Now().UTC()
	c := newActive(now.Add(time.Hour))
	if got := c.EffectiveState(now); got != StateActive {
		t.Fatalf("expected ACTIVE before deadline, got %s", got)
	}
	if got := c.EffectiveState(now.Add(2 * time.Hour)); got != StateEnded {
		t.Fatalf("expected ENDED after deadline, got %s", got)
	}
	if c.State != StateActive {
		t.Fatalf("stored state mutated by read: %s", c.State)
	}
}

func TestResolveBeforeDeadlineRejected(t *testing.T) {
	now := time.Now().UTC()
	c := newActive(now.Add(time.Hour))
	if err := c.BeginResolve(now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected rejection before deadline, got %v", err)
	}
}

func TestCancelRefusedOnceResolving(t *testing.T) {
	now := time.Now().UTC()
	c := newActive(now.Add(-time.Hour))
	if err := c.BeginResolve(now); err != nil {
		t.Fatalf("begin resolve: %v", err)
	}
	if err := c.Cancel(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected cancel rejection while resolving, got %v", err)
	}
}

func TestCancelFromPreResolutionStates(t *testing.T) {
	for _, state := range []State{StateDraft, StatePendingCreate, StateActive} {
		c := &Campaign{State: state}
		if err := c.Cancel(); err != nil {
			t.Fatalf("cancel from %s: %v", state, err)
		}
		if c.State != StateCancelled {
			t.Fatalf("expected CANCELLED from %s, got %s", state, c.State)
		}
	}
}

func TestFinalizeZeroWinnersByFlavor(t *testing.T) {
	now := time.Now().UTC()

	quest := newActive(now.Add(-time.Hour))
	quest.State = StateResolving
	if err := quest.Finalize(nil, now); err != nil {
		t.Fatalf("quest flavor must allow zero winners (refund): %v", err)
	}

	coverage := newActive(now.Add(-time.Hour))
	coverage.Flavor = FlavorCoverage
	coverage.State = StateResolving
	var verr *ValidationError
	if err := coverage.Finalize(nil, now); !errors.As(err, &verr) {
		t.Fatalf("coverage flavor must require at least one recipient, got %v", err)
	}
}

func TestPolicyValidateDraft(t *testing.T) {
	now := time.Now().UTC()
	p := QuestPolicy()

	if err := p.ValidateDraft(0, now.Add(time.Hour), now); err == nil {
		t.Fatalf("expected rejection of zero pool")
	}
	if err := p.ValidateDraft(-5, now.Add(time.Hour), now); err == nil {
		t.Fatalf("expected rejection of negative pool")
	}
	if err := p.ValidateDraft(100, now.Add(30*time.Second), now); err == nil {
		t.Fatalf("expected rejection of deadline inside buffer")
	}
	if err := p.ValidateDraft(100, now.Add(2*time.Minute), now); err != nil {
		t.Fatalf("expected valid draft: %v", err)
	}

	var verr *ValidationError
	if err := p.ValidateDraft(0, now.Add(time.Hour), now); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}
