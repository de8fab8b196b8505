package transcript

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, q := range []string{"q1", "q2", "q3"} {
		if err := s.SaveTurn(ctx, TurnRecord{SessionID: "s1", Question: q, Answer: "a-" + q}); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	turns, err := s.RecentTurns(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Question != "q2" || turns[1].Question != "q3" {
		t.Fatalf("unexpected order: %+v", turns)
	}
	for _, turn := range turns {
		if turn.ID == "" || turn.CreatedAt.IsZero() {
			t.Fatalf("record fields not defaulted: %+v", turn)
		}
	}
}

func TestInMemoryStoreIsolatesSessions(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.SaveTurn(ctx, TurnRecord{SessionID: "a", Question: "q", Answer: "x"}); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}
	turns, err := s.RecentTurns(ctx, "b", 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("session b sees %d turns, want 0", len(turns))
	}
}
