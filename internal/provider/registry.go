package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/parleylabs/parley-core/internal/asr"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/fault"
	"github.com/parleylabs/parley-core/internal/llm"
	"github.com/parleylabs/parley-core/internal/tts"
)

// Stage names one phase of the orchestrated turn.
type Stage string

const (
	StageRecognizer  Stage = "recognizer"
	StageResponder   Stage = "responder"
	StageSynthesizer Stage = "synthesizer"
)

// ParseStage validates an externally supplied stage name.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageRecognizer, StageResponder, StageSynthesizer:
		return Stage(s), nil
	}
	return "", fault.New(fault.KindConfig, "unknown stage %q", s)
}

// degradedSecondsPerChar sizes the silent placeholder buffer when every
// synthesizer in the chain fails, mirroring the rough duration a real
// synthesis of the text would have.
const degradedSecondsPerChar = 0.2

type recognizerEntry struct {
	id      string
	params  asr.Params
	handle  *Handle
	build   func() (asr.Recognizer, error)
	adapter asr.Recognizer
}

type responderEntry struct {
	id      string
	params  llm.Params
	handle  *Handle
	build   func() (llm.Responder, error)
	adapter llm.Responder
}

type synthesizerEntry struct {
	id      string
	params  tts.Params
	handle  *Handle
	build   func() (tts.Synthesizer, error)
	adapter tts.Synthesizer
}

// Registry holds the configured backends per stage and the per-stage
// active pointer. Adapters are built lazily through their registered
// factory so a provider with a missing credential only fails when it is
// actually selected. Switching the active provider is a pure pointer
// swap; it never touches session history or the other stages.
type Registry struct {
	log *slog.Logger

	mu                sync.RWMutex
	recognizers       map[string]*recognizerEntry
	responders        map[string]*responderEntry
	synthesizers      map[string]*synthesizerEntry
	activeRecognizer  string
	activeResponder   string
	activeSynthesizer string
	fallback          []string

	deviceLocks map[string]*sync.Mutex
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:          log.With(slog.String("component", "provider-registry")),
		recognizers:  make(map[string]*recognizerEntry),
		responders:   make(map[string]*responderEntry),
		synthesizers: make(map[string]*synthesizerEntry),
		deviceLocks:  make(map[string]*sync.Mutex),
	}
}

// FromConfig builds a registry from the validated configuration. The
// set of provider kinds is closed; config validation already rejected
// anything outside it.
func FromConfig(cfg config.Config, log *slog.Logger) (*Registry, error) {
	r := NewRegistry(log)

	for id, pc := range cfg.ASR.Providers {
		pc := pc
		params := asr.Params{
			SampleRate: cfg.ASR.SampleRate,
			Channels:   cfg.ASR.Channels,
			Language:   pc.Language,
			Hotwords:   pc.Hotwords,
		}
		r.RegisterRecognizer(id, params, pc.Device, func() (asr.Recognizer, error) {
			switch pc.Kind {
			case "exec":
				return asr.NewExecRecognizer(pc)
			default:
				return asr.NewMockRecognizer(), nil
			}
		})
	}

	for id, pc := range cfg.LLM.Providers {
		pc := pc
		params := llm.Params{
			Model:       pc.Model,
			Temperature: pc.Temperature,
			MaxTokens:   pc.MaxTokens,
			TopP:        pc.TopP,
		}
		r.RegisterResponder(id, params, "", func() (llm.Responder, error) {
			switch pc.Kind {
			case "openai":
				return llm.NewOpenAIResponder(pc)
			case "ollama":
				return llm.NewOllamaResponder(pc), nil
			case "exec":
				return llm.NewExecResponder(pc)
			default:
				return llm.NewMockResponder(), nil
			}
		})
	}

	for id, pc := range cfg.TTS.Providers {
		pc := pc
		params := tts.Params{
			Speaker:         pc.Speaker,
			Speed:           pc.Speed,
			Pitch:           pc.Pitch,
			SampleRate:      pc.SampleRate,
			Channels:        pc.Channels,
			Emotion:         pc.Emotion,
			EmotionStrength: pc.EmotionStrength,
		}
		r.RegisterSynthesizer(id, params, pc.Device, func() (tts.Synthesizer, error) {
			switch pc.Kind {
			case "exec":
				return tts.NewExecSynth(pc)
			default:
				return tts.NewMockSynth(), nil
			}
		})
	}

	if err := r.SwitchActive(StageRecognizer, cfg.ASR.Active); err != nil {
		return nil, err
	}
	if err := r.SwitchActive(StageResponder, cfg.LLM.Active); err != nil {
		return nil, err
	}
	if err := r.SwitchActive(StageSynthesizer, cfg.TTS.Active); err != nil {
		return nil, err
	}
	r.SetFallback(cfg.TTS.Fallback)
	return r, nil
}

func (r *Registry) lockForDevice(device string) *sync.Mutex {
	if device == "" {
		return nil
	}
	if lock, ok := r.deviceLocks[device]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	r.deviceLocks[device] = lock
	return lock
}

func (r *Registry) RegisterRecognizer(id string, params asr.Params, device string, build func() (asr.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[id] = &recognizerEntry{id: id, params: params, handle: newHandle(device, r.lockForDevice(device)), build: build}
}

func (r *Registry) RegisterResponder(id string, params llm.Params, device string, build func() (llm.Responder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responders[id] = &responderEntry{id: id, params: params, handle: newHandle(device, r.lockForDevice(device)), build: build}
}

func (r *Registry) RegisterSynthesizer(id string, params tts.Params, device string, build func() (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesizers[id] = &synthesizerEntry{id: id, params: params, handle: newHandle(device, r.lockForDevice(device)), build: build}
}

// SetFallback configures the ordered synthesizer fallback chain.
func (r *Registry) SetFallback(order []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = append([]string(nil), order...)
}

// SwitchActive repoints one stage's active provider. Unknown ids and
// providers whose adapter cannot be constructed (for instance a missing
// credential) are rejected without changing the pointer.
func (r *Registry) SwitchActive(stage Stage, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch stage {
	case StageRecognizer:
		entry, ok := r.recognizers[id]
		if !ok {
			return fault.New(fault.KindConfig, "unknown recognizer provider %q", id)
		}
		if err := r.ensureRecognizer(entry); err != nil {
			return err
		}
		r.activeRecognizer = id
	case StageResponder:
		entry, ok := r.responders[id]
		if !ok {
			return fault.New(fault.KindConfig, "unknown responder provider %q", id)
		}
		if err := r.ensureResponder(entry); err != nil {
			return err
		}
		r.activeResponder = id
	case StageSynthesizer:
		entry, ok := r.synthesizers[id]
		if !ok {
			return fault.New(fault.KindConfig, "unknown synthesizer provider %q", id)
		}
		if err := r.ensureSynthesizer(entry); err != nil {
			return err
		}
		r.activeSynthesizer = id
	default:
		return fault.New(fault.KindConfig, "unknown stage %q", stage)
	}
	r.log.Info("active provider switched", slog.String("stage", string(stage)), slog.String("provider", id))
	return nil
}

// Active reports the active provider id for a stage.
func (r *Registry) Active(stage Stage) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch stage {
	case StageRecognizer:
		return r.activeRecognizer
	case StageResponder:
		return r.activeResponder
	case StageSynthesizer:
		return r.activeSynthesizer
	}
	return ""
}

func (r *Registry) ensureRecognizer(entry *recognizerEntry) error {
	if entry.adapter != nil {
		return nil
	}
	adapter, err := entry.build()
	if err != nil {
		return err
	}
	entry.adapter = adapter
	return nil
}

func (r *Registry) ensureResponder(entry *responderEntry) error {
	if entry.adapter != nil {
		return nil
	}
	adapter, err := entry.build()
	if err != nil {
		return err
	}
	entry.adapter = adapter
	return nil
}

func (r *Registry) ensureSynthesizer(entry *synthesizerEntry) error {
	if entry.adapter != nil {
		return nil
	}
	adapter, err := entry.build()
	if err != nil {
		return err
	}
	entry.adapter = adapter
	return nil
}

// Recognizer returns the active recognition backend with its params and
// lifecycle handle.
func (r *Registry) Recognizer() (asr.Recognizer, asr.Params, *Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.recognizers[r.activeRecognizer]
	if !ok {
		return nil, asr.Params{}, nil, fault.New(fault.KindConfig, "no active recognizer provider")
	}
	if err := r.ensureRecognizer(entry); err != nil {
		return nil, asr.Params{}, nil, err
	}
	return entry.adapter, entry.params, entry.handle, nil
}

// Responder returns the active generation backend.
func (r *Registry) Responder() (llm.Responder, llm.Params, *Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.responders[r.activeResponder]
	if !ok {
		return nil, llm.Params{}, nil, fault.New(fault.KindConfig, "no active responder provider")
	}
	if err := r.ensureResponder(entry); err != nil {
		return nil, llm.Params{}, nil, err
	}
	return entry.adapter, entry.params, entry.handle, nil
}

// synthOrder resolves the fallback attempt order: the active provider
// first, then the configured chain, deduplicated.
func (r *Registry) synthOrder() ([]*synthesizerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var order []*synthesizerEntry
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		if entry, ok := r.synthesizers[id]; ok {
			seen[id] = true
			order = append(order, entry)
		}
	}
	add(r.activeSynthesizer)
	for _, id := range r.fallback {
		add(id)
	}
	return order, len(r.fallback) > 0
}

// SynthesizeWithFallback attempts the active synthesizer and then the
// configured fallback chain. When every provider fails and a fallback
// chain is configured, the result is a silent placeholder tagged
// degraded instead of an error; with no fallback configured, the last
// error propagates.
func (r *Registry) SynthesizeWithFallback(ctx context.Context, text string) (tts.Result, error) {
	order, haveFallback := r.synthOrder()
	if len(order) == 0 {
		return tts.Result{}, fault.New(fault.KindConfig, "no synthesizer providers configured")
	}

	var lastErr error
	for _, entry := range order {
		r.mu.Lock()
		err := r.ensureSynthesizer(entry)
		adapter, params, handle := entry.adapter, entry.params, entry.handle
		r.mu.Unlock()
		if err != nil {
			lastErr = err
			continue
		}
		if err := handle.Load(ctx, loaderFor(adapter)); err != nil {
			lastErr = err
			continue
		}
		var result tts.Result
		err = handle.WithDevice(func() error {
			var synthErr error
			result, synthErr = adapter.Synthesize(ctx, text, params)
			return synthErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		r.log.Warn("synthesizer failed, trying next in chain",
			slog.String("provider", entry.id),
			slog.String("error", err.Error()))
	}

	if haveFallback {
		params := order[0].params
		d := time.Duration(float64(len(text)) * degradedSecondsPerChar * float64(time.Second))
		r.log.Warn("all synthesizers failed, returning degraded silence",
			slog.Duration("duration", d))
		return tts.Silence(d, params.SampleRate, params.Channels), nil
	}
	if lastErr == nil {
		lastErr = fault.New(fault.KindSynthesis, "synthesis failed")
	}
	return tts.Result{}, fault.Wrap(fault.KindSynthesis, lastErr, "synthesis failed with no fallback configured")
}

// Loader is implemented by adapters that need real initialization work
// at load time (model weights, warmup). Everything else loads as an
// instant no-op.
type Loader interface {
	Load(ctx context.Context) error
}

func loaderFor(adapter any) func(context.Context) error {
	if l, ok := adapter.(Loader); ok {
		return l.Load
	}
	return nil
}

// Load drives the active provider of one stage to ready. Idempotent;
// concurrent callers converge on a single initialization.
func (r *Registry) Load(ctx context.Context, stage Stage) error {
	switch stage {
	case StageRecognizer:
		adapter, _, handle, err := r.Recognizer()
		if err != nil {
			return err
		}
		return handle.Load(ctx, loaderFor(adapter))
	case StageResponder:
		adapter, _, handle, err := r.Responder()
		if err != nil {
			return err
		}
		return handle.Load(ctx, loaderFor(adapter))
	case StageSynthesizer:
		r.mu.Lock()
		entry, ok := r.synthesizers[r.activeSynthesizer]
		if !ok {
			r.mu.Unlock()
			return fault.New(fault.KindConfig, "no active synthesizer provider")
		}
		err := r.ensureSynthesizer(entry)
		adapter, handle := entry.adapter, entry.handle
		r.mu.Unlock()
		if err != nil {
			return err
		}
		return handle.Load(ctx, loaderFor(adapter))
	}
	return fault.New(fault.KindConfig, "unknown stage %q", stage)
}

// LoadAll loads every stage's active provider.
func (r *Registry) LoadAll(ctx context.Context) error {
	var errs []error
	for _, stage := range []Stage{StageRecognizer, StageResponder, StageSynthesizer} {
		if err := r.Load(ctx, stage); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unload resets the active handle of a stage back to unloaded.
func (r *Registry) Unload(stage Stage) error {
	handle, err := r.activeHandle(stage)
	if err != nil {
		return err
	}
	handle.Reset()
	return nil
}

func (r *Registry) activeHandle(stage Stage) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch stage {
	case StageRecognizer:
		if entry, ok := r.recognizers[r.activeRecognizer]; ok {
			return entry.handle, nil
		}
	case StageResponder:
		if entry, ok := r.responders[r.activeResponder]; ok {
			return entry.handle, nil
		}
	case StageSynthesizer:
		if entry, ok := r.synthesizers[r.activeSynthesizer]; ok {
			return entry.handle, nil
		}
	default:
		return nil, fault.New(fault.KindConfig, "unknown stage %q", stage)
	}
	return nil, fault.New(fault.KindConfig, "no active provider for stage %q", stage)
}

// Ready reports whether a stage's active provider is loaded.
func (r *Registry) Ready(stage Stage) bool {
	handle, err := r.activeHandle(stage)
	if err != nil {
		return false
	}
	return handle.State() == StateReady
}

// Health reports per-stage readiness.
func (r *Registry) Health() map[Stage]bool {
	return map[Stage]bool{
		StageRecognizer:  r.Ready(StageRecognizer),
		StageResponder:   r.Ready(StageResponder),
		StageSynthesizer: r.Ready(StageSynthesizer),
	}
}
