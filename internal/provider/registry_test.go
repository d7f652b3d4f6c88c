package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/parleylabs/parley-core/internal/asr"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/fault"
	"github.com/parleylabs/parley-core/internal/llm"
	"github.com/parleylabs/parley-core/internal/tts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFromConfigWiresMockProviders(t *testing.T) {
	cfg := config.Default()
	reg, err := FromConfig(cfg, testLogger())
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if got := reg.Active(StageRecognizer); got != "mock" {
		t.Fatalf("active recognizer = %q, want mock", got)
	}
	if _, _, _, err := reg.Recognizer(); err != nil {
		t.Fatalf("recognizer: %v", err)
	}
	if _, _, _, err := reg.Responder(); err != nil {
		t.Fatalf("responder: %v", err)
	}
}

func TestSwitchActiveUnknownProvider(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterResponder("known", llm.Params{}, "", func() (llm.Responder, error) {
		return llm.NewMockResponder(), nil
	})
	if err := reg.SwitchActive(StageResponder, "known"); err != nil {
		t.Fatalf("switch to known: %v", err)
	}

	err := reg.SwitchActive(StageResponder, "ghost")
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !fault.IsKind(err, fault.KindConfig) {
		t.Fatalf("error kind = %s, want config", fault.KindOf(err))
	}
	if got := reg.Active(StageResponder); got != "known" {
		t.Fatalf("active changed to %q on failed switch", got)
	}
}

func TestSwitchActiveFactoryFailureKeepsPointer(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterResponder("good", llm.Params{}, "", func() (llm.Responder, error) {
		return llm.NewMockResponder(), nil
	})
	reg.RegisterResponder("no-credential", llm.Params{}, "", func() (llm.Responder, error) {
		return nil, fault.New(fault.KindConfig, "credential environment variable not set")
	})
	if err := reg.SwitchActive(StageResponder, "good"); err != nil {
		t.Fatalf("switch to good: %v", err)
	}

	if err := reg.SwitchActive(StageResponder, "no-credential"); err == nil {
		t.Fatal("expected factory failure to reject the switch")
	}
	if got := reg.Active(StageResponder); got != "good" {
		t.Fatalf("active = %q after failed switch, want good", got)
	}
	if _, _, _, err := reg.Responder(); err != nil {
		t.Fatalf("responder unusable after failed switch: %v", err)
	}
}

func TestSwitchActiveDoesNotDisturbOtherStages(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterRecognizer("r1", asr.Params{}, "", func() (asr.Recognizer, error) {
		return &asr.MockRecognizer{Text: "one"}, nil
	})
	reg.RegisterRecognizer("r2", asr.Params{}, "", func() (asr.Recognizer, error) {
		return &asr.MockRecognizer{Text: "two"}, nil
	})
	reg.RegisterResponder("resp", llm.Params{}, "", func() (llm.Responder, error) {
		return llm.NewMockResponder(), nil
	})
	reg.RegisterSynthesizer("synth", tts.Params{SampleRate: 22050, Channels: 1}, "", func() (tts.Synthesizer, error) {
		return tts.NewMockSynth(), nil
	})
	for stage, id := range map[Stage]string{StageRecognizer: "r1", StageResponder: "resp", StageSynthesizer: "synth"} {
		if err := reg.SwitchActive(stage, id); err != nil {
			t.Fatalf("switch %s: %v", stage, err)
		}
	}

	if err := reg.SwitchActive(StageRecognizer, "r2"); err != nil {
		t.Fatalf("switch recognizer: %v", err)
	}
	adapter, _, _, err := reg.Recognizer()
	if err != nil {
		t.Fatalf("recognizer: %v", err)
	}
	res, err := adapter.Transcribe(context.Background(), nil, asr.Params{})
	if err != nil || res.Text != "two" {
		t.Fatalf("transcribe after switch = %q (%v), want two", res.Text, err)
	}
	if reg.Active(StageResponder) != "resp" || reg.Active(StageSynthesizer) != "synth" {
		t.Fatal("other stages changed by recognizer switch")
	}
}

func TestSynthesizeWithFallbackTriesChainInOrder(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterSynthesizer("primary", tts.Params{SampleRate: 22050, Channels: 1}, "", func() (tts.Synthesizer, error) {
		return &tts.MockSynth{Err: errors.New("primary down")}, nil
	})
	reg.RegisterSynthesizer("backup", tts.Params{SampleRate: 16000, Channels: 1}, "", func() (tts.Synthesizer, error) {
		return tts.NewMockSynth(), nil
	})
	if err := reg.SwitchActive(StageSynthesizer, "primary"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	reg.SetFallback([]string{"backup"})

	result, err := reg.SynthesizeWithFallback(context.Background(), "hello")
	if err != nil {
		t.Fatalf("fallback chain failed: %v", err)
	}
	if result.Degraded {
		t.Fatal("backup synthesis wrongly marked degraded")
	}
	if result.SampleRate != 16000 {
		t.Fatalf("result sample rate = %d, want backup's 16000", result.SampleRate)
	}
}

func TestSynthesizeWithFallbackDegradedSilence(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterSynthesizer("primary", tts.Params{SampleRate: 22050, Channels: 1}, "", func() (tts.Synthesizer, error) {
		return &tts.MockSynth{Err: errors.New("primary down")}, nil
	})
	reg.RegisterSynthesizer("backup", tts.Params{SampleRate: 22050, Channels: 1}, "", func() (tts.Synthesizer, error) {
		return &tts.MockSynth{Err: errors.New("backup down")}, nil
	})
	if err := reg.SwitchActive(StageSynthesizer, "primary"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	reg.SetFallback([]string{"backup"})

	text := "hello world"
	result, err := reg.SynthesizeWithFallback(context.Background(), text)
	if err != nil {
		t.Fatalf("degraded path returned error: %v", err)
	}
	if !result.Degraded {
		t.Fatal("expected degraded result")
	}
	wantBytes := int(float64(len(text))*0.2*22050) * 2
	if len(result.PCM) != wantBytes {
		t.Fatalf("silence = %d bytes, want %d", len(result.PCM), wantBytes)
	}
	for _, b := range result.PCM {
		if b != 0 {
			t.Fatal("degraded buffer is not silent")
		}
	}
}

func TestSynthesizeWithoutFallbackPropagatesError(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterSynthesizer("primary", tts.Params{SampleRate: 22050, Channels: 1}, "", func() (tts.Synthesizer, error) {
		return &tts.MockSynth{Err: errors.New("primary down")}, nil
	})
	if err := reg.SwitchActive(StageSynthesizer, "primary"); err != nil {
		t.Fatalf("switch: %v", err)
	}

	_, err := reg.SynthesizeWithFallback(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error with no fallback configured")
	}
	if !fault.IsKind(err, fault.KindSynthesis) {
		t.Fatalf("error kind = %s, want synthesis", fault.KindOf(err))
	}
}

func TestLoadUnloadHealth(t *testing.T) {
	cfg := config.Default()
	reg, err := FromConfig(cfg, testLogger())
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}

	health := reg.Health()
	for stage, ready := range health {
		if ready {
			t.Fatalf("stage %s ready before load", stage)
		}
	}

	if err := reg.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	for stage, ready := range reg.Health() {
		if !ready {
			t.Fatalf("stage %s not ready after LoadAll", stage)
		}
	}

	if err := reg.Unload(StageResponder); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if reg.Ready(StageResponder) {
		t.Fatal("responder still ready after unload")
	}
	if !reg.Ready(StageRecognizer) || !reg.Ready(StageSynthesizer) {
		t.Fatal("unload of one stage disturbed the others")
	}
}

func TestParseStage(t *testing.T) {
	for _, name := range []string{"recognizer", "responder", "synthesizer"} {
		if _, err := ParseStage(name); err != nil {
			t.Fatalf("ParseStage(%q): %v", name, err)
		}
	}
	if _, err := ParseStage("vocoder"); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}
