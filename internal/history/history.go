package history

import (
	"sync"
	"time"

	"github.com/parleylabs/parley-core/internal/fault"
)

// Role identifies which side of the conversation produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one half of an exchange. Immutable once appended.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session holds one ongoing conversation: the ordered turn log, the
// system prompt re-injected at generation time (never stored as a turn,
// so trimming cannot remove it), and a counter of completed exchanges.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	turns        []Turn
	systemPrompt string
	exchanges    int

	// turnMu serializes whole turns; concurrent turns on the same
	// session queue behind it rather than interleave.
	turnMu sync.Mutex
}

func NewSession(id, systemPrompt string) *Session {
	return &Session{
		ID:           id,
		CreatedAt:    time.Now().UTC(),
		systemPrompt: systemPrompt,
	}
}

// Append adds turns to the tail in call order. Turns with empty content
// are rejected so a blank exchange can never pollute the log.
func (s *Session) Append(turns ...Turn) error {
	for _, t := range turns {
		if t.Content == "" {
			return fault.New(fault.KindConfig, "turn content must not be empty")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, t := range turns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		s.turns = append(s.turns, t)
	}
	return nil
}

// Snapshot returns an ordered copy safe to hand to a responder backend
// while other goroutines keep appending.
func (s *Session) Snapshot() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Trim keeps only the most recent maxTurns entries, counted in whole
// turns. A log already within the limit is left untouched.
func (s *Session) Trim(maxTurns int) error {
	if maxTurns <= 0 {
		return fault.New(fault.KindConfig, "max turns must be positive, got %d", maxTurns)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) <= maxTurns {
		return nil
	}
	kept := make([]Turn, maxTurns)
	copy(kept, s.turns[len(s.turns)-maxTurns:])
	s.turns = kept
	return nil
}

// TrimPairs keeps the most recent maxPairs user/assistant exchanges.
func (s *Session) TrimPairs(maxPairs int) error {
	if maxPairs <= 0 {
		return fault.New(fault.KindConfig, "max pairs must be positive, got %d", maxPairs)
	}
	return s.Trim(maxPairs * 2)
}

// Clear empties the log. The system prompt and exchange counter survive.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

func (s *Session) SystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemPrompt
}

func (s *Session) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = prompt
}

// MarkExchange bumps the completed-exchange counter.
func (s *Session) MarkExchange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges++
}

func (s *Session) Exchanges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges
}

// LockTurn acquires the per-session turn lock. One turn runs at a time;
// callers must pair with UnlockTurn.
func (s *Session) LockTurn()   { s.turnMu.Lock() }
func (s *Session) UnlockTurn() { s.turnMu.Unlock() }
