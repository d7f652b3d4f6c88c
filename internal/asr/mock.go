package asr

import (
	"context"
	"fmt"

	"github.com/parleylabs/parley-core/internal/fault"
)

// MockRecognizer returns a canned transcript for any input. Text may be
// overridden for deterministic scenarios; Err forces every call to fail.
type MockRecognizer struct {
	Text string
	Err  error
}

func NewMockRecognizer() *MockRecognizer { return &MockRecognizer{} }

func (m *MockRecognizer) Transcribe(ctx context.Context, audio []byte, _ Params) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fault.Wrap(fault.KindRecognition, err, "mock transcription cancelled")
	}
	if m.Err != nil {
		return Result{}, fault.Wrap(fault.KindRecognition, m.Err, "mock transcription failed")
	}
	text := m.Text
	if text == "" {
		text = fmt.Sprintf("[mock transcript length=%d]", len(audio))
	}
	return Result{Text: text, Confidence: 1}, nil
}
