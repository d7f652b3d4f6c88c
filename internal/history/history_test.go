package history

import (
	"fmt"
	"testing"
)

func TestAppendPreservesOrder(t *testing.T) {
	s := NewSession("s1", "")
	for i := 0; i < 6; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := s.Append(Turn{Role: role, Content: fmt.Sprintf("msg-%d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	turns := s.Snapshot()
	if len(turns) != 6 {
		t.Fatalf("expected 6 turns, got %d", len(turns))
	}
	for i, turn := range turns {
		if turn.Content != fmt.Sprintf("msg-%d", i) {
			t.Fatalf("turn %d out of order: %q", i, turn.Content)
		}
	}
}

func TestAppendRejectsEmptyContent(t *testing.T) {
	s := NewSession("s1", "")
	if err := s.Append(Turn{Role: RoleUser, Content: ""}); err == nil {
		t.Fatal("expected error for empty content")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty log, got %d", s.Len())
	}
}

func TestTrimKeepsMostRecent(t *testing.T) {
	s := NewSession("s1", "")
	for i := 0; i < 10; i++ {
		if err := s.Append(Turn{Role: RoleUser, Content: fmt.Sprintf("msg-%d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Trim(4); err != nil {
		t.Fatalf("trim: %v", err)
	}
	turns := s.Snapshot()
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns after trim, got %d", len(turns))
	}
	for i, turn := range turns {
		want := fmt.Sprintf("msg-%d", i+6)
		if turn.Content != want {
			t.Fatalf("expected %q at position %d, got %q", want, i, turn.Content)
		}
	}
}

func TestTrimNoopWithinLimit(t *testing.T) {
	s := NewSession("s1", "")
	if err := s.Append(Turn{Role: RoleUser, Content: "only"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Trim(5); err != nil {
		t.Fatalf("trim: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected untouched log, got %d", s.Len())
	}
}

func TestTrimRejectsNonPositive(t *testing.T) {
	s := NewSession("s1", "")
	if err := s.Trim(0); err == nil {
		t.Fatal("expected error for zero max turns")
	}
	if err := s.Trim(-3); err == nil {
		t.Fatal("expected error for negative max turns")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := NewSession("s1", "")
	if err := s.Append(Turn{Role: RoleUser, Content: "original"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	snap := s.Snapshot()
	snap[0].Content = "mutated"
	if s.Snapshot()[0].Content != "original" {
		t.Fatal("snapshot mutation leaked into session")
	}
}

func TestClearKeepsSystemPrompt(t *testing.T) {
	s := NewSession("s1", "be helpful")
	if err := s.Append(Turn{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty log, got %d", s.Len())
	}
	if s.SystemPrompt() != "be helpful" {
		t.Fatalf("system prompt lost on clear: %q", s.SystemPrompt())
	}
}

func TestTrimPairs(t *testing.T) {
	s := NewSession("s1", "")
	for i := 0; i < 5; i++ {
		if err := s.Append(
			Turn{Role: RoleUser, Content: fmt.Sprintf("u-%d", i)},
			Turn{Role: RoleAssistant, Content: fmt.Sprintf("a-%d", i)},
		); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.TrimPairs(2); err != nil {
		t.Fatalf("trim pairs: %v", err)
	}
	turns := s.Snapshot()
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}
	if turns[0].Content != "u-3" || turns[3].Content != "a-4" {
		t.Fatalf("unexpected window: %q .. %q", turns[0].Content, turns[3].Content)
	}
}
