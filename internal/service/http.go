package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/parleylabs/parley-core/internal/fault"
	"github.com/parleylabs/parley-core/internal/protocol"
)

// Handler exposes the service over HTTP with JSON bodies.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /load/all", s.handleLoadAll)
	mux.HandleFunc("POST /load/{stage}", s.handleLoad)
	mux.HandleFunc("POST /unload/{stage}", s.handleUnload)
	mux.HandleFunc("POST /turn", s.handleTurn)
	mux.HandleFunc("POST /batch", s.handleBatch)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("POST /history/clear", s.handleHistoryClear)
	mux.HandleFunc("POST /history/trim", s.handleHistoryTrim)
	mux.HandleFunc("POST /systemPrompt", s.handleSystemPrompt)
	mux.HandleFunc("POST /provider/switch", s.handleProviderSwitch)

	return mux
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("response encode failed", slog.String("error", err.Error()))
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if fault.IsKind(err, fault.KindConfig) {
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, errorBody{Error: err.Error(), Kind: string(fault.KindOf(err))})
}

func decodeBody[T any](r *http.Request) (T, error) {
	var req T
	if r.Body == nil {
		return req, errors.New("request body required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Health())
}

func (s *Service) handleLoadAll(w http.ResponseWriter, r *http.Request) {
	resp := s.Load(r.Context(), "")
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, resp)
}

func (s *Service) handleLoad(w http.ResponseWriter, r *http.Request) {
	resp := s.Load(r.Context(), r.PathValue("stage"))
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, resp)
}

func (s *Service) handleUnload(w http.ResponseWriter, r *http.Request) {
	resp := s.Unload(r.PathValue("stage"))
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, resp)
}

func (s *Service) handleTurn(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[protocol.TurnRequest](r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	// Turn failures travel in the body; HTTP 200 means the request was
	// processed, not that the turn succeeded.
	s.writeJSON(w, http.StatusOK, s.RunTurn(r.Context(), req))
}

func (s *Service) handleBatch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[protocol.BatchRequest](r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if len(req.AudioPaths) == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "audio_paths must not be empty"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.RunBatch(r.Context(), req))
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "session_id query parameter required"})
		return
	}
	resp, err := s.GetHistory(sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[protocol.ClearRequest](r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.ClearHistory(req.SessionID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Service) handleHistoryTrim(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[protocol.TrimRequest](r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.TrimHistory(req.SessionID, req.MaxTurns); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Service) handleSystemPrompt(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[protocol.SystemPromptRequest](r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	id := s.SetSystemPrompt(req.SessionID, req.SystemPrompt)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "session_id": id})
}

func (s *Service) handleProviderSwitch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[protocol.SwitchProviderRequest](r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.SwitchProvider(req.Stage, req.Provider); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
