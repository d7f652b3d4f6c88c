package service

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleylabs/parley-core/internal/artifact"
	"github.com/parleylabs/parley-core/internal/bus"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/fault"
	"github.com/parleylabs/parley-core/internal/history"
	"github.com/parleylabs/parley-core/internal/pipeline"
	"github.com/parleylabs/parley-core/internal/protocol"
	"github.com/parleylabs/parley-core/internal/provider"
	"github.com/parleylabs/parley-core/internal/turnstore"
)

// Service owns the conversation sessions and fronts the pipeline for
// transport handlers. Turns on one session are serialized; turns on
// different sessions run concurrently.
type Service struct {
	cfg       config.Config
	registry  *provider.Registry
	orch      *pipeline.Orchestrator
	artifacts *artifact.Store
	store     *turnstore.Store
	events    *bus.Client
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*history.Session
}

func New(cfg config.Config, registry *provider.Registry, orch *pipeline.Orchestrator, artifacts *artifact.Store, store *turnstore.Store, events *bus.Client, log *slog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		registry:  registry,
		orch:      orch,
		artifacts: artifacts,
		store:     store,
		events:    events,
		log:       log.With(slog.String("component", "service")),
		sessions:  make(map[string]*history.Session),
	}
}

// session returns the existing session or creates one. An empty id
// mints a fresh UUID-backed session.
func (s *Service) session(id string) *history.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := history.NewSession(id, s.cfg.Conversation.SystemPrompt)
	s.sessions[id] = sess
	return sess
}

func (s *Service) lookup(id string) (*history.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fault.New(fault.KindConfig, "unknown session %q", id)
	}
	return sess, nil
}

// resolveAudio turns a request's audio reference into PCM bytes.
func (s *Service) resolveAudio(req protocol.TurnRequest) ([]byte, int, int, error) {
	switch {
	case req.AudioPath != "" && req.AudioBase64 != "":
		return nil, 0, 0, fault.New(fault.KindConfig, "audio_path and audio_base64 are mutually exclusive")
	case req.AudioPath != "":
		return artifact.ReadWav(req.AudioPath)
	case req.AudioBase64 != "":
		pcm, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			return nil, 0, 0, fault.Wrap(fault.KindConfig, err, "decode audio_base64")
		}
		return pcm, s.cfg.ASR.SampleRate, s.cfg.ASR.Channels, nil
	default:
		return nil, 0, 0, fault.New(fault.KindConfig, "one of audio_path or audio_base64 is required")
	}
}

// RunTurn executes one full exchange and reports the outcome. The
// response is always well-formed; failures are carried in Error and
// ErrorKind rather than a transport error.
func (s *Service) RunTurn(ctx context.Context, req protocol.TurnRequest) protocol.TurnResponse {
	sess := s.session(req.SessionID)
	resp := protocol.TurnResponse{SessionID: sess.ID}

	pcm, sampleRate, channels, err := s.resolveAudio(req)
	if err != nil {
		return s.failResponse(resp, err)
	}

	if _, err := s.artifacts.SaveInput(pcm, sampleRate, channels); err != nil {
		s.log.Warn("input artifact save failed", slog.String("error", err.Error()))
	}

	// Turns queue rather than interleave on one session.
	sess.LockTurn()
	defer sess.UnlockTurn()

	result := s.orch.RunTurn(ctx, sess, pcm)
	resp.Success = result.Success
	resp.RecognizedText = result.RecognizedText
	resp.ReplyText = result.ReplyText
	resp.Degraded = result.Degraded
	resp.DurationMS = result.Duration.Milliseconds()
	if result.Err != nil {
		resp.Error = result.Err.Error()
		resp.ErrorKind = string(fault.KindOf(result.Err))
	}

	if result.Success {
		path, err := s.artifacts.SaveResponse(result.Audio.PCM, result.Audio.SampleRate, result.Audio.Channels)
		if err != nil {
			s.log.Warn("response artifact save failed", slog.String("error", err.Error()))
		} else {
			resp.AudioArtifactPath = path
		}
	}

	s.record(ctx, sess, resp)
	s.publish(sess, result)
	return resp
}

func (s *Service) failResponse(resp protocol.TurnResponse, err error) protocol.TurnResponse {
	resp.Success = false
	resp.Error = err.Error()
	resp.ErrorKind = string(fault.KindOf(err))
	return resp
}

func (s *Service) record(ctx context.Context, sess *history.Session, resp protocol.TurnResponse) {
	if s.store == nil {
		return
	}
	if err := s.store.EnsureSession(ctx, sess.ID, sess.SystemPrompt()); err != nil {
		s.log.Warn("session record failed", slog.String("error", err.Error()))
		return
	}
	rec := turnstore.Record{
		SessionID:      sess.ID,
		Exchange:       sess.Exchanges(),
		RecognizedText: resp.RecognizedText,
		ReplyText:      resp.ReplyText,
		ArtifactPath:   resp.AudioArtifactPath,
		Degraded:       resp.Degraded,
		Success:        resp.Success,
		ErrorKind:      resp.ErrorKind,
		DurationMS:     resp.DurationMS,
	}
	if err := s.store.AppendTurn(ctx, rec); err != nil {
		s.log.Warn("turn record failed", slog.String("error", err.Error()))
	}
}

func (s *Service) publish(sess *history.Session, result pipeline.Result) {
	if s.events == nil {
		return
	}
	now := time.Now().UTC()
	if result.RecognizedText != "" {
		_ = s.events.PublishJSON(protocol.SubjectTurnTranscript, protocol.TurnEvent{
			SessionID: sess.ID,
			Exchange:  sess.Exchanges(),
			Text:      result.RecognizedText,
			Timestamp: now,
		})
	}
	if result.ReplyText != "" {
		_ = s.events.PublishJSON(protocol.SubjectTurnReply, protocol.TurnEvent{
			SessionID: sess.ID,
			Exchange:  sess.Exchanges(),
			Text:      result.ReplyText,
			Timestamp: now,
		})
	}
	if result.Success {
		_ = s.events.PublishJSON(protocol.SubjectTurnAudioDone, protocol.TurnEvent{
			SessionID: sess.ID,
			Exchange:  sess.Exchanges(),
			Degraded:  result.Degraded,
			Timestamp: now,
		})
	}
}

// RunBatch drives several audio files through one session. Results come
// back in input order regardless of worker interleaving; per-session
// turn locking keeps the exchanges themselves ordered when concurrency
// is 1 (the default).
func (s *Service) RunBatch(ctx context.Context, req protocol.BatchRequest) protocol.BatchResponse {
	sess := s.session(req.SessionID)
	resp := protocol.BatchResponse{
		SessionID: sess.ID,
		Results:   make([]protocol.TurnResponse, len(req.AudioPaths)),
	}

	workers := req.Concurrency
	if workers <= 0 {
		workers = s.cfg.Conversation.BatchConcurrency
	}
	if workers <= 1 || len(req.AudioPaths) <= 1 {
		for i, path := range req.AudioPaths {
			resp.Results[i] = s.RunTurn(ctx, protocol.TurnRequest{SessionID: sess.ID, AudioPath: path})
		}
		return resp
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, path := range req.AudioPaths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			resp.Results[i] = s.RunTurn(ctx, protocol.TurnRequest{SessionID: sess.ID, AudioPath: path})
		}(i, path)
	}
	wg.Wait()
	return resp
}

// Load readies one stage, or every stage when stage is empty.
func (s *Service) Load(ctx context.Context, stage string) protocol.LoadResponse {
	if stage == "" {
		if err := s.registry.LoadAll(ctx); err != nil {
			return protocol.LoadResponse{Success: false, Error: err.Error()}
		}
		return protocol.LoadResponse{Success: true}
	}
	parsed, err := provider.ParseStage(stage)
	if err != nil {
		return protocol.LoadResponse{Success: false, Stage: stage, Error: err.Error()}
	}
	if err := s.registry.Load(ctx, parsed); err != nil {
		return protocol.LoadResponse{Success: false, Stage: stage, Error: err.Error()}
	}
	return protocol.LoadResponse{Success: true, Stage: stage}
}

// Unload resets one stage's active backend to unloaded.
func (s *Service) Unload(stage string) protocol.LoadResponse {
	parsed, err := provider.ParseStage(stage)
	if err != nil {
		return protocol.LoadResponse{Success: false, Stage: stage, Error: err.Error()}
	}
	if err := s.registry.Unload(parsed); err != nil {
		return protocol.LoadResponse{Success: false, Stage: stage, Error: err.Error()}
	}
	return protocol.LoadResponse{Success: true, Stage: stage}
}

// Health reports per-stage readiness. Status is "ok" only when every
// stage's active backend is loaded.
func (s *Service) Health() protocol.HealthResponse {
	stages := make(map[string]bool)
	status := "ok"
	for stage, ready := range s.registry.Health() {
		stages[string(stage)] = ready
		if !ready {
			status = "degraded"
		}
	}
	return protocol.HealthResponse{Status: status, Stages: stages}
}

// GetHistory returns a session's turn log.
func (s *Service) GetHistory(sessionID string) (protocol.HistoryResponse, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return protocol.HistoryResponse{}, err
	}
	snapshot := sess.Snapshot()
	turns := make([]protocol.HistoryTurn, len(snapshot))
	for i, t := range snapshot {
		turns[i] = protocol.HistoryTurn{
			Role:      string(t.Role),
			Content:   t.Content,
			CreatedAt: t.CreatedAt,
		}
	}
	return protocol.HistoryResponse{
		SessionID: sess.ID,
		Turns:     turns,
		Exchanges: sess.Exchanges(),
	}, nil
}

// ClearHistory empties a session's turn log, keeping its system prompt.
func (s *Service) ClearHistory(sessionID string) error {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.Clear()
	return nil
}

// TrimHistory keeps the most recent maxTurns entries of a session,
// counted in whole turns.
func (s *Service) TrimHistory(sessionID string, maxTurns int) error {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.Trim(maxTurns)
}

// SetSystemPrompt replaces a session's system prompt, creating the
// session when it does not exist yet.
func (s *Service) SetSystemPrompt(sessionID, prompt string) string {
	sess := s.session(sessionID)
	sess.SetSystemPrompt(prompt)
	return sess.ID
}

// SwitchProvider repoints one stage's active provider.
func (s *Service) SwitchProvider(stage, providerID string) error {
	parsed, err := provider.ParseStage(stage)
	if err != nil {
		return err
	}
	return s.registry.SwitchActive(parsed, providerID)
}
