package llm

import (
	"context"
	"strings"

	"github.com/parleylabs/parley-core/internal/fault"
	"github.com/parleylabs/parley-core/internal/history"
)

// MockResponder produces a deterministic reply. Script, when set,
// overrides the default canned behavior; Err forces every call to fail.
type MockResponder struct {
	Script func(userText string, snapshot []history.Turn) (string, error)
	Err    error
}

func NewMockResponder() *MockResponder { return &MockResponder{} }

func (m *MockResponder) Generate(ctx context.Context, userText string, snapshot []history.Turn, _ string, _ Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fault.Wrap(fault.KindGeneration, err, "mock generation cancelled")
	}
	if m.Err != nil {
		return "", fault.Wrap(fault.KindGeneration, m.Err, "mock generation failed")
	}
	if m.Script != nil {
		reply, err := m.Script(userText, snapshot)
		if err != nil {
			return "", fault.Wrap(fault.KindGeneration, err, "scripted generation failed")
		}
		return reply, nil
	}
	return "[mock reply to " + strings.TrimSpace(userText) + "]", nil
}
