package protocol

import "time"

// TurnRequest asks the service to run one full audio exchange. Exactly
// one of AudioPath and AudioBase64 must be set.
type TurnRequest struct {
	SessionID   string `json:"session_id,omitempty"`
	AudioPath   string `json:"audio_path,omitempty"`
	AudioBase64 string `json:"audio_base64,omitempty"`
}

// TurnResponse reports one turn's outcome. RecognizedText and ReplyText
// are populated even when synthesis failed, text being the primary
// contract of a turn.
type TurnResponse struct {
	Success           bool   `json:"success"`
	SessionID         string `json:"session_id"`
	RecognizedText    string `json:"recognized_text,omitempty"`
	ReplyText         string `json:"reply_text,omitempty"`
	AudioArtifactPath string `json:"audio_artifact_path,omitempty"`
	Degraded          bool   `json:"degraded,omitempty"`
	DurationMS        int64  `json:"duration_ms"`
	Error             string `json:"error,omitempty"`
	ErrorKind         string `json:"error_kind,omitempty"`
}

// BatchRequest runs several inputs through one session in order.
// Concurrency above 1 opts into a bounded worker pool; the default is
// sequential to avoid backend overload.
type BatchRequest struct {
	SessionID   string   `json:"session_id,omitempty"`
	AudioPaths  []string `json:"audio_paths"`
	Concurrency int      `json:"concurrency,omitempty"`
}

// BatchResponse carries one entry per input in input order.
type BatchResponse struct {
	SessionID string         `json:"session_id"`
	Results   []TurnResponse `json:"results"`
}

// LoadRequest targets one stage, or all stages when Stage is empty.
type LoadRequest struct {
	Stage string `json:"stage,omitempty"`
}

// LoadResponse reports the outcome of a load or unload.
type LoadResponse struct {
	Success bool   `json:"success"`
	Stage   string `json:"stage,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the readiness report per stage.
type HealthResponse struct {
	Status string          `json:"status"`
	Stages map[string]bool `json:"stages"`
}

// HistoryTurn mirrors one stored conversation turn on the wire.
type HistoryTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryResponse returns a session's turn log.
type HistoryResponse struct {
	SessionID string        `json:"session_id"`
	Turns     []HistoryTurn `json:"turns"`
	Exchanges int           `json:"exchanges"`
}

// SystemPromptRequest replaces a session's system prompt.
type SystemPromptRequest struct {
	SessionID    string `json:"session_id"`
	SystemPrompt string `json:"system_prompt"`
}

// TrimRequest keeps only the most recent MaxTurns entries, counted in
// whole turns.
type TrimRequest struct {
	SessionID string `json:"session_id"`
	MaxTurns  int    `json:"max_turns"`
}

// ClearRequest empties a session's turn log.
type ClearRequest struct {
	SessionID string `json:"session_id"`
}

// SwitchProviderRequest repoints one stage's active provider.
type SwitchProviderRequest struct {
	Stage    string `json:"stage"`
	Provider string `json:"provider"`
}

// TurnEvent is broadcast on the bus as a turn progresses.
type TurnEvent struct {
	SessionID string    `json:"session_id"`
	Exchange  int       `json:"exchange"`
	Text      string    `json:"text,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTurnTranscript = "turn.transcript"
	SubjectTurnReply      = "turn.reply"
	SubjectTurnAudioDone  = "turn.audio.done"
)
