package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/parleylabs/parley-core/internal/asr"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/fault"
	"github.com/parleylabs/parley-core/internal/history"
	"github.com/parleylabs/parley-core/internal/llm"
	"github.com/parleylabs/parley-core/internal/provider"
	"github.com/parleylabs/parley-core/internal/tts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubs struct {
	recognizer  *asr.MockRecognizer
	responder   *llm.MockResponder
	synthesizer *tts.MockSynth
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *provider.Registry, stubs) {
	t.Helper()
	log := testLogger()

	s := stubs{
		recognizer:  &asr.MockRecognizer{Text: "hello"},
		responder:   llm.NewMockResponder(),
		synthesizer: tts.NewMockSynth(),
	}

	reg := provider.NewRegistry(log)
	reg.RegisterRecognizer("stub", asr.Params{SampleRate: 16000, Channels: 1}, "", func() (asr.Recognizer, error) {
		return s.recognizer, nil
	})
	reg.RegisterResponder("stub", llm.Params{}, "", func() (llm.Responder, error) {
		return s.responder, nil
	})
	reg.RegisterSynthesizer("stub", tts.Params{SampleRate: 22050, Channels: 1}, "", func() (tts.Synthesizer, error) {
		return s.synthesizer, nil
	})
	for _, stage := range []provider.Stage{provider.StageRecognizer, provider.StageResponder, provider.StageSynthesizer} {
		if err := reg.SwitchActive(stage, "stub"); err != nil {
			t.Fatalf("switch %s: %v", stage, err)
		}
	}

	return New(config.Default(), reg, log), reg, s
}

func TestRunTurnTwoExchanges(t *testing.T) {
	orch, _, s := newTestOrchestrator(t)
	s.responder.Script = func(userText string, snapshot []history.Turn) (string, error) {
		if len(snapshot) == 0 {
			return "hi there", nil
		}
		return "hi again", nil
	}

	sess := history.NewSession("s1", "")
	audio := make([]byte, 3200)

	first := orch.RunTurn(context.Background(), sess, audio)
	if !first.Success || first.State != StateCompleted {
		t.Fatalf("first turn: success=%v state=%s err=%v", first.Success, first.State, first.Err)
	}
	if first.RecognizedText != "hello" {
		t.Fatalf("recognized = %q, want %q", first.RecognizedText, "hello")
	}
	if first.ReplyText != "hi there" {
		t.Fatalf("first reply = %q, want %q", first.ReplyText, "hi there")
	}
	// 100 samples per character, 16-bit mono.
	wantBytes := len("hi there") * 100 * 2
	if len(first.Audio.PCM) != wantBytes {
		t.Fatalf("audio buffer = %d bytes, want %d", len(first.Audio.PCM), wantBytes)
	}
	if first.Degraded {
		t.Fatal("first turn unexpectedly degraded")
	}

	second := orch.RunTurn(context.Background(), sess, audio)
	if !second.Success {
		t.Fatalf("second turn failed: %v", second.Err)
	}
	if second.ReplyText != "hi again" {
		t.Fatalf("second reply = %q, want %q", second.ReplyText, "hi again")
	}

	turns := sess.Snapshot()
	if len(turns) != 4 {
		t.Fatalf("history length = %d, want 4", len(turns))
	}
	wantOrder := []struct {
		role    history.Role
		content string
	}{
		{history.RoleUser, "hello"},
		{history.RoleAssistant, "hi there"},
		{history.RoleUser, "hello"},
		{history.RoleAssistant, "hi again"},
	}
	for i, want := range wantOrder {
		if turns[i].Role != want.role || turns[i].Content != want.content {
			t.Fatalf("turn[%d] = %s %q, want %s %q", i, turns[i].Role, turns[i].Content, want.role, want.content)
		}
	}
	if sess.Exchanges() != 2 {
		t.Fatalf("exchanges = %d, want 2", sess.Exchanges())
	}
}

func TestRunTurnRecognitionFailureAbortsEarly(t *testing.T) {
	orch, _, s := newTestOrchestrator(t)
	s.recognizer.Err = errors.New("decoder crashed")

	called := false
	s.responder.Script = func(string, []history.Turn) (string, error) {
		called = true
		return "unreachable", nil
	}

	sess := history.NewSession("s1", "")
	result := orch.RunTurn(context.Background(), sess, []byte{1, 2, 3})
	if result.Success || result.State != StateFailed {
		t.Fatalf("expected failed turn, got success=%v state=%s", result.Success, result.State)
	}
	if !fault.IsKind(result.Err, fault.KindRecognition) {
		t.Fatalf("error kind = %s, want recognition", fault.KindOf(result.Err))
	}
	if called {
		t.Fatal("responder invoked after recognition failure")
	}
	if sess.Len() != 0 {
		t.Fatalf("history length = %d after failed turn, want 0", sess.Len())
	}
}

func TestRunTurnEmptyTranscriptRejected(t *testing.T) {
	orch, _, s := newTestOrchestrator(t)
	s.recognizer.Text = "   "

	sess := history.NewSession("s1", "")
	result := orch.RunTurn(context.Background(), sess, []byte{1})
	if result.Success {
		t.Fatal("expected failure for blank transcript")
	}
	if !fault.IsKind(result.Err, fault.KindRecognition) {
		t.Fatalf("error kind = %s, want recognition", fault.KindOf(result.Err))
	}
	if sess.Len() != 0 {
		t.Fatalf("history length = %d, want 0", sess.Len())
	}
}

func TestRunTurnResponderFailureLeavesHistoryIntact(t *testing.T) {
	orch, _, s := newTestOrchestrator(t)
	s.responder.Script = func(string, []history.Turn) (string, error) {
		return "first reply", nil
	}

	sess := history.NewSession("s1", "")
	if result := orch.RunTurn(context.Background(), sess, []byte{1}); !result.Success {
		t.Fatalf("setup turn failed: %v", result.Err)
	}
	before := sess.Snapshot()

	s.responder.Err = errors.New("backend unreachable")
	result := orch.RunTurn(context.Background(), sess, []byte{1})
	if result.Success || result.State != StateFailed {
		t.Fatalf("expected failed turn, got success=%v state=%s", result.Success, result.State)
	}
	if !fault.IsKind(result.Err, fault.KindGeneration) {
		t.Fatalf("error kind = %s, want generation", fault.KindOf(result.Err))
	}
	if result.RecognizedText != "hello" {
		t.Fatalf("recognized text lost on failure: %q", result.RecognizedText)
	}

	after := sess.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("history grew from %d to %d on responder failure", len(before), len(after))
	}
	for i := range before {
		if after[i] != before[i] {
			t.Fatalf("history turn %d mutated on failed turn", i)
		}
	}
}

func TestRunTurnSynthesisFallsBackToSilence(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	s.synthesizer.Err = errors.New("vocoder out of memory")
	reg.RegisterSynthesizer("also-broken", tts.Params{SampleRate: 22050, Channels: 1}, "", func() (tts.Synthesizer, error) {
		return &tts.MockSynth{Err: errors.New("also broken")}, nil
	})
	reg.SetFallback([]string{"also-broken"})

	s.responder.Script = func(string, []history.Turn) (string, error) {
		return "ten chars!", nil
	}

	sess := history.NewSession("s1", "")
	result := orch.RunTurn(context.Background(), sess, []byte{1})
	if !result.Success || result.State != StateCompleted {
		t.Fatalf("degraded turn should complete: success=%v state=%s err=%v", result.Success, result.State, result.Err)
	}
	if !result.Degraded {
		t.Fatal("expected degraded result")
	}
	// 0.2s of silence per character at 22050 Hz mono 16-bit.
	wantBytes := int(float64(len("ten chars!"))*0.2*22050) * 2
	if len(result.Audio.PCM) != wantBytes {
		t.Fatalf("silence buffer = %d bytes, want %d", len(result.Audio.PCM), wantBytes)
	}
	// The exchange still committed.
	if sess.Len() != 2 {
		t.Fatalf("history length = %d, want 2", sess.Len())
	}
}

func TestRunTurnSynthesisFailureWithoutFallback(t *testing.T) {
	orch, _, s := newTestOrchestrator(t)
	s.synthesizer.Err = errors.New("vocoder out of memory")

	sess := history.NewSession("s1", "")
	result := orch.RunTurn(context.Background(), sess, []byte{1})
	if result.Success || result.State != StateFailed {
		t.Fatalf("expected failed turn, got success=%v state=%s", result.Success, result.State)
	}
	if !fault.IsKind(result.Err, fault.KindSynthesis) {
		t.Fatalf("error kind = %s, want synthesis", fault.KindOf(result.Err))
	}
	// Text survives the synthesis failure.
	if result.RecognizedText != "hello" || result.ReplyText == "" {
		t.Fatalf("text lost on synthesis failure: recognized=%q reply=%q", result.RecognizedText, result.ReplyText)
	}
	// The exchange committed before synthesis.
	if sess.Len() != 2 {
		t.Fatalf("history length = %d, want 2", sess.Len())
	}
}

func TestRunTurnTrimsHistoryToConfiguredWindow(t *testing.T) {
	log := testLogger()
	s := stubs{
		recognizer:  &asr.MockRecognizer{Text: "hello"},
		responder:   llm.NewMockResponder(),
		synthesizer: tts.NewMockSynth(),
	}
	reg := provider.NewRegistry(log)
	reg.RegisterRecognizer("stub", asr.Params{}, "", func() (asr.Recognizer, error) { return s.recognizer, nil })
	reg.RegisterResponder("stub", llm.Params{}, "", func() (llm.Responder, error) { return s.responder, nil })
	reg.RegisterSynthesizer("stub", tts.Params{SampleRate: 22050, Channels: 1}, "", func() (tts.Synthesizer, error) { return s.synthesizer, nil })
	for _, stage := range []provider.Stage{provider.StageRecognizer, provider.StageResponder, provider.StageSynthesizer} {
		if err := reg.SwitchActive(stage, "stub"); err != nil {
			t.Fatalf("switch %s: %v", stage, err)
		}
	}

	cfg := config.Default()
	cfg.Conversation.MaxHistory = 2
	orch := New(cfg, reg, log)

	counter := 0
	s.responder.Script = func(string, []history.Turn) (string, error) {
		counter++
		return "reply " + string(rune('a'+counter-1)), nil
	}

	sess := history.NewSession("s1", "")
	for i := 0; i < 5; i++ {
		if result := orch.RunTurn(context.Background(), sess, []byte{1}); !result.Success {
			t.Fatalf("turn %d failed: %v", i, result.Err)
		}
	}

	turns := sess.Snapshot()
	if len(turns) != 4 {
		t.Fatalf("history length = %d after trim, want 4", len(turns))
	}
	if turns[1].Content != "reply d" || turns[3].Content != "reply e" {
		t.Fatalf("trim kept wrong window: %q, %q", turns[1].Content, turns[3].Content)
	}
	if sess.Exchanges() != 5 {
		t.Fatalf("exchanges = %d, want 5", sess.Exchanges())
	}
}

func TestRunTurnRecordsStageTimings(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	sess := history.NewSession("s1", "")
	result := orch.RunTurn(context.Background(), sess, []byte{1})
	if !result.Success {
		t.Fatalf("turn failed: %v", result.Err)
	}
	if result.RecognizeTime < 0 || result.RespondTime < 0 || result.SynthesizeTime < 0 {
		t.Fatal("negative stage timing")
	}
	if result.Duration < result.RecognizeTime {
		t.Fatalf("total %v shorter than recognize stage %v", result.Duration, result.RecognizeTime)
	}
}
