package ddd

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// ---- Shared test aggregate ----

type userCreated struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (e *userCreated) AggregateID() string { return e.ID }
func (e *userCreated) EventType() string   { return "UserCreated" }

type userRenamed struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (e *userRenamed) AggregateID() string { return e.ID }
func (e *userRenamed) EventType() string   { return "UserRenamed" }

type userAggregate struct {
	*AggregateBase
	Name    string
	Created bool
}

func newUserAggregate(id string) *userAggregate {
	return &userAggregate{AggregateBase: NewAggregateBase(id)}
}

func (u *userAggregate) Apply(event Event) error {
	switch ev := event.(type) {
	case *userCreated:
		if u.Created {
			return NewDomainRuleError("user-unique", "user %s already exists", ev.ID)
		}
		u.Created = true
		u.Name = ev.Name
	case *userRenamed:
		if !u.Created {
			return NewDomainRuleError("user-exists", "user %s does not exist", ev.ID)
		}
		if ev.Name == "" {
			return NewDomainRuleError("name-not-empty", "rename to empty name")
		}
		u.Name = ev.Name
	}
	return nil
}

func (u *userAggregate) SnapshotState() (json.RawMessage, error) {
	return json.Marshal(struct {
		Name    string `json:"name"`
		Created bool   `json:"created"`
	}{u.Name, u.Created})
}

func (u *userAggregate) RestoreSnapshot(state json.RawMessage) error {
	var s struct {
		Name    string `json:"name"`
		Created bool   `json:"created"`
	}
	if err := json.Unmarshal(state, &s); err != nil {
		return err
	}
	u.Name = s.Name
	u.Created = s.Created
	return nil
}

// ---- Tests ----

func TestRaise_AppliesAndQueues(t *testing.T) {
	user := newUserAggregate("user-1")

	if err := Raise(user, &userCreated{ID: "user-1", Name: "ada"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Raise(user, &userRenamed{ID: "user-1", Name: "grace"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if user.Name != "grace" {
		t.Fatalf("expected state applied, got name %q", user.Name)
	}
	if user.AggregateVersion() != 2 {
		t.Fatalf("expected version 2, got %d", user.AggregateVersion())
	}
	if user.OriginVersion() != 0 {
		t.Fatalf("expected origin version 0, got %d", user.OriginVersion())
	}

	events := user.UncommittedEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 uncommitted events, got %d", len(events))
	}
	if events[0].Version != 1 || events[1].Version != 2 {
		t.Fatalf("expected versions 1,2 got %d,%d", events[0].Version, events[1].Version)
	}
	if events[0].StreamID != "user-1" {
		t.Fatalf("expected stream id user-1, got %q", events[0].StreamID)
	}
	if events[0].EventID == events[1].EventID {
		t.Fatalf("expected distinct event IDs")
	}
}

func TestRaise_RejectedEventLeavesAggregateUntouched(t *testing.T) {
	user := newUserAggregate("user-1")

	err := Raise(user, &userRenamed{ID: "user-1", Name: "grace"})
	var ruleErr *DomainRuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("expected DomainRuleError, got %v", err)
	}

	if user.AggregateVersion() != 0 {
		t.Fatalf("expected version 0 after rejection, got %d", user.AggregateVersion())
	}
	if len(user.UncommittedEvents()) != 0 {
		t.Fatalf("expected no uncommitted events after rejection")
	}
}

func TestRaise_WithMetadataOption(t *testing.T) {
	user := newUserAggregate("user-1")

	if err := Raise(user, &userCreated{ID: "user-1", Name: "ada"},
		WithMetadata(map[string]any{"tenant": "acme"})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := user.UncommittedEvents()
	if events[0].Metadata["tenant"] != "acme" {
		t.Fatalf("expected metadata to carry tenant, got %v", events[0].Metadata)
	}
}

func TestTakeUncommittedEvents_ClearsQueueAndKeepsVersion(t *testing.T) {
	user := newUserAggregate("user-1")
	if err := Raise(user, &userCreated{ID: "user-1", Name: "ada"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	taken := user.TakeUncommittedEvents()
	if len(taken) != 1 {
		t.Fatalf("expected 1 event, got %d", len(taken))
	}
	if len(user.UncommittedEvents()) != 0 {
		t.Fatalf("expected queue cleared")
	}
	if user.TakeUncommittedEvents() != nil {
		t.Fatalf("expected second take to return nil")
	}
	if user.AggregateVersion() != 1 {
		t.Fatalf("expected version 1 after take, got %d", user.AggregateVersion())
	}
	if user.OriginVersion() != 1 {
		t.Fatalf("expected origin version 1 after take, got %d", user.OriginVersion())
	}
}

func TestReplay_RebuildsState(t *testing.T) {
	user := newUserAggregate("user-1")

	envelopes := []*Envelope{
		{StreamID: "user-1", Event: &userCreated{ID: "user-1", Name: "ada"}, Version: 1},
		{StreamID: "user-1", Event: &userRenamed{ID: "user-1", Name: "grace"}, Version: 2},
	}

	if err := Replay(context.Background(), user, NewSliceIterator(envelopes)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if user.Name != "grace" || user.AggregateVersion() != 2 {
		t.Fatalf("expected replayed state, got name=%q version=%d", user.Name, user.AggregateVersion())
	}
	if len(user.UncommittedEvents()) != 0 {
		t.Fatalf("replay must not queue uncommitted events")
	}
}

func TestReplay_GapFailsWithInvalidSequence(t *testing.T) {
	user := newUserAggregate("user-1")

	envelopes := []*Envelope{
		{StreamID: "user-1", Event: &userCreated{ID: "user-1", Name: "ada"}, Version: 1},
		{StreamID: "user-1", Event: &userRenamed{ID: "user-1", Name: "grace"}, Version: 3},
	}

	err := Replay(context.Background(), user, NewSliceIterator(envelopes))
	var seqErr *InvalidSequenceError
	if !errors.As(err, &seqErr) {
		t.Fatalf("expected InvalidSequenceError, got %v", err)
	}
	if seqErr.Expected != 2 || seqErr.Got != 3 {
		t.Fatalf("expected gap 2 vs 3, got %d vs %d", seqErr.Expected, seqErr.Got)
	}

	// The aggregate stays at the last good state.
	if user.AggregateVersion() != 1 || user.Name != "ada" {
		t.Fatalf("expected aggregate at version 1, got version=%d name=%q", user.AggregateVersion(), user.Name)
	}
}

func TestReplay_PropagatesIteratorError(t *testing.T) {
	user := newUserAggregate("user-1")
	readErr := errors.New("backend read failure")

	iter := NewIteratorFunc(func(ctx context.Context) (*Envelope, error) {
		return nil, readErr
	})

	if err := Replay(context.Background(), user, iter); !errors.Is(err, readErr) {
		t.Fatalf("expected iterator error, got %v", err)
	}
}
