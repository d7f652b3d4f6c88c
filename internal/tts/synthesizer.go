package tts

import (
	"context"
	"time"
)

// Params carries voice settings resolved from provider configuration.
type Params struct {
	Speaker         string
	Speed           float64
	Pitch           float64
	SampleRate      int
	Channels        int
	Emotion         string
	EmotionStrength float64
}

// Result is a synthesized PCM buffer. Degraded marks a placeholder
// produced because the preferred backend failed.
type Result struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Degraded   bool
}

// Duration reports the playback length of the buffer (16-bit samples).
func (r Result) Duration() time.Duration {
	if r.SampleRate <= 0 || r.Channels <= 0 {
		return 0
	}
	samples := len(r.PCM) / 2 / r.Channels
	return time.Duration(samples) * time.Second / time.Duration(r.SampleRate)
}

// Synthesizer is the contract for producing audio from text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, params Params) (Result, error)
}

// Silence builds a zero-amplitude buffer of the given duration, used as
// the degraded stand-in when every configured backend fails.
func Silence(d time.Duration, sampleRate, channels int) Result {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if channels <= 0 {
		channels = 1
	}
	samples := int(d.Seconds() * float64(sampleRate))
	return Result{
		PCM:        make([]byte, samples*2*channels),
		SampleRate: sampleRate,
		Channels:   channels,
		Degraded:   true,
	}
}
