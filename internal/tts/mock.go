package tts

import (
	"context"

	"github.com/parleylabs/parley-core/internal/fault"
)

// MockSynth emits a silent buffer proportional to the text length:
// SamplesPerChar samples per input character. Err forces failure.
type MockSynth struct {
	SamplesPerChar int
	Err            error
}

func NewMockSynth() *MockSynth { return &MockSynth{SamplesPerChar: 100} }

func (m *MockSynth) Synthesize(ctx context.Context, text string, params Params) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fault.Wrap(fault.KindSynthesis, err, "mock synthesis cancelled")
	}
	if m.Err != nil {
		return Result{}, fault.Wrap(fault.KindSynthesis, m.Err, "mock synthesis failed")
	}
	perChar := m.SamplesPerChar
	if perChar <= 0 {
		perChar = 100
	}
	channels := params.Channels
	if channels <= 0 {
		channels = 1
	}
	return Result{
		PCM:        make([]byte, len(text)*perChar*2*channels),
		SampleRate: params.SampleRate,
		Channels:   channels,
	}, nil
}
