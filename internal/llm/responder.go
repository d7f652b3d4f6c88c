package llm

import (
	"context"

	"github.com/parleylabs/parley-core/internal/history"
)

// Params are the generation settings attached to a configured provider.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// Responder is the contract for reply generation. The history snapshot
// is ordered oldest-first and may be empty on a first turn; the system
// prompt is re-injected on every call and is never part of the snapshot.
type Responder interface {
	Generate(ctx context.Context, userText string, snapshot []history.Turn, systemPrompt string, params Params) (string, error)
}
