package asr

import (
	"context"
)

// Params carries per-call recognition settings resolved from provider
// configuration.
type Params struct {
	SampleRate int
	Channels   int
	Language   string
	Hotwords   []string
}

// Result captures recognizer output.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts speech-to-text backends. The audio payload is an
// opaque PCM buffer; codec handling belongs to the backend.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte, params Params) (Result, error)
}
