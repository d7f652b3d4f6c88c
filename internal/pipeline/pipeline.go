package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/parleylabs/parley-core/internal/asr"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/fault"
	"github.com/parleylabs/parley-core/internal/history"
	"github.com/parleylabs/parley-core/internal/provider"
	"github.com/parleylabs/parley-core/internal/tts"
)

// State is the per-turn machine position. Transitions only move
// forward; a failure short-circuits straight to StateFailed.
type State string

const (
	StateIdle         State = "idle"
	StateRecognizing  State = "recognizing"
	StateResponding   State = "responding"
	StateSynthesizing State = "synthesizing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Result is the structured outcome of one turn. Text is the primary
// contract: on a synthesis failure without fallback the recognized and
// reply text still come back alongside the error.
type Result struct {
	State          State
	Success        bool
	Degraded       bool
	RecognizedText string
	ReplyText      string
	Audio          tts.Result
	RecognizeTime  time.Duration
	RespondTime    time.Duration
	SynthesizeTime time.Duration
	Duration       time.Duration
	Err            error
}

// Orchestrator sequences one turn through the three stages, committing
// history only when the responder stage fully succeeds. There are no
// automatic retries inside a turn; re-invoking the turn is always safe
// because nothing is committed before responder success.
type Orchestrator struct {
	registry *provider.Registry
	log      *slog.Logger
	tracer   trace.Tracer

	recognizeTimeout  time.Duration
	respondTimeout    time.Duration
	synthesizeTimeout time.Duration
	maxHistoryPairs   int

	turnCounter  metric.Int64Counter
	stageLatency metric.Float64Histogram
}

func New(cfg config.Config, registry *provider.Registry, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		registry:          registry,
		log:               log.With(slog.String("component", "pipeline")),
		tracer:            otel.Tracer("github.com/parleylabs/parley-core/pipeline"),
		recognizeTimeout:  msOrDefault(cfg.ASR.StageTimeoutMS, 45*time.Second),
		respondTimeout:    msOrDefault(cfg.LLM.StageTimeoutMS, 60*time.Second),
		synthesizeTimeout: msOrDefault(cfg.TTS.StageTimeoutMS, 45*time.Second),
		maxHistoryPairs:   cfg.Conversation.MaxHistory,
	}
	meter := otel.Meter("github.com/parleylabs/parley-core/pipeline")
	if counter, err := meter.Int64Counter("parley.turns.total",
		metric.WithDescription("Completed and failed turns")); err == nil {
		o.turnCounter = counter
	}
	if hist, err := meter.Float64Histogram("parley.stage.latency_ms",
		metric.WithDescription("Per-stage wall time in milliseconds")); err == nil {
		o.stageLatency = hist
	}
	return o
}

func msOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// RunTurn drives audio through recognize, respond and synthesize for
// one session. The caller is responsible for per-session serialization.
func (o *Orchestrator) RunTurn(ctx context.Context, sess *history.Session, audio []byte) Result {
	started := time.Now()
	ctx, span := o.tracer.Start(ctx, "pipeline.turn",
		trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer span.End()

	result := Result{State: StateIdle}
	defer func() {
		result.Duration = time.Since(started)
	}()

	// Recognizing.
	result.State = StateRecognizing
	recognized, err := o.recognize(ctx, audio, &result)
	if err != nil {
		return o.fail(&result, err)
	}
	result.RecognizedText = recognized

	// An empty transcript is rejected as a no-op turn rather than
	// forwarded to the responder.
	if strings.TrimSpace(recognized) == "" {
		return o.fail(&result, fault.New(fault.KindRecognition, "recognizer produced empty transcript"))
	}

	// Responding.
	result.State = StateResponding
	reply, err := o.respond(ctx, sess, recognized, &result)
	if err != nil {
		// The user turn is not appended: history only grows from
		// fully successful exchanges.
		return o.fail(&result, err)
	}
	result.ReplyText = reply

	now := time.Now().UTC()
	if err := sess.Append(
		history.Turn{Role: history.RoleUser, Content: recognized, CreatedAt: now},
		history.Turn{Role: history.RoleAssistant, Content: reply, CreatedAt: now},
	); err != nil {
		return o.fail(&result, err)
	}
	sess.MarkExchange()
	if o.maxHistoryPairs > 0 {
		if err := sess.TrimPairs(o.maxHistoryPairs); err != nil {
			o.log.Warn("history trim failed", slog.String("error", err.Error()))
		}
	}

	// Synthesizing.
	result.State = StateSynthesizing
	audioOut, err := o.synthesize(ctx, reply, &result)
	if err != nil {
		// Text is the primary contract; the recognized and reply text
		// survive an undegraded synthesis failure.
		return o.fail(&result, err)
	}
	result.Audio = audioOut
	result.Degraded = audioOut.Degraded

	result.State = StateCompleted
	result.Success = true
	o.count(ctx, true, result.Degraded)
	return result
}

func (o *Orchestrator) fail(result *Result, err error) Result {
	stage := result.State
	result.State = StateFailed
	result.Err = err
	o.count(context.Background(), false, false)
	o.log.Warn("turn failed",
		slog.String("stage", string(stage)),
		slog.String("kind", string(fault.KindOf(err))),
		slog.String("error", err.Error()))
	return *result
}

func (o *Orchestrator) count(ctx context.Context, success, degraded bool) {
	if o.turnCounter == nil {
		return
	}
	o.turnCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Bool("success", success),
			attribute.Bool("degraded", degraded),
		))
}

func (o *Orchestrator) observeStage(ctx context.Context, stage string, d time.Duration) {
	if o.stageLatency == nil {
		return
	}
	o.stageLatency.Record(ctx, float64(d.Milliseconds()),
		metric.WithAttributes(attribute.String("stage", stage)))
}

func (o *Orchestrator) recognize(ctx context.Context, audio []byte, result *Result) (string, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.recognize")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, o.recognizeTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		result.RecognizeTime = time.Since(started)
		o.observeStage(ctx, "recognize", result.RecognizeTime)
	}()

	adapter, params, handle, err := o.registry.Recognizer()
	if err != nil {
		return "", err
	}
	if err := handle.Load(ctx, nil); err != nil {
		return "", err
	}
	var recognized asr.Result
	err = handle.WithDevice(func() error {
		var trErr error
		recognized, trErr = adapter.Transcribe(ctx, audio, params)
		return trErr
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fault.Wrap(fault.KindTimeout, err, "recognition timed out")
		}
		return "", fault.Wrap(fault.KindRecognition, err, "recognition failed")
	}
	return recognized.Text, nil
}

func (o *Orchestrator) respond(ctx context.Context, sess *history.Session, userText string, result *Result) (string, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.respond")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, o.respondTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		result.RespondTime = time.Since(started)
		o.observeStage(ctx, "respond", result.RespondTime)
	}()

	adapter, params, handle, err := o.registry.Responder()
	if err != nil {
		return "", err
	}
	if err := handle.Load(ctx, nil); err != nil {
		return "", err
	}
	reply, err := adapter.Generate(ctx, userText, sess.Snapshot(), sess.SystemPrompt(), params)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fault.Wrap(fault.KindTimeout, err, "generation timed out")
		}
		return "", fault.Wrap(fault.KindGeneration, err, "generation failed")
	}
	if reply == "" {
		return "", fault.New(fault.KindGeneration, "responder produced empty reply")
	}
	return reply, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, text string, result *Result) (tts.Result, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.synthesize")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, o.synthesizeTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		result.SynthesizeTime = time.Since(started)
		o.observeStage(ctx, "synthesize", result.SynthesizeTime)
	}()

	out, err := o.registry.SynthesizeWithFallback(ctx, text)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return tts.Result{}, fault.Wrap(fault.KindTimeout, err, "synthesis timed out")
		}
		return tts.Result{}, err
	}
	return out, nil
}
