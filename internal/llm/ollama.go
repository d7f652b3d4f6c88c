package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/fault"
	"github.com/parleylabs/parley-core/internal/history"
)

// ollamaResponder streams from a local Ollama endpoint and returns the
// accumulated completion. History is flattened into the prompt since
// /api/generate takes a single prompt plus system string.
type ollamaResponder struct {
	endpoint   string
	maxRetries int
}

func NewOllamaResponder(cfg config.LLMProviderConfig) Responder {
	return &ollamaResponder{endpoint: strings.TrimRight(cfg.Endpoint, "/"), maxRetries: cfg.MaxRetries}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (r *ollamaResponder) Generate(ctx context.Context, userText string, snapshot []history.Turn, systemPrompt string, params Params) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fault.Wrap(fault.KindGeneration, err, "generation cancelled")
		}
		reply, err := r.generateOnce(ctx, userText, snapshot, systemPrompt, params)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return "", fault.Wrap(fault.KindGeneration, lastErr, "ollama generation failed")
}

func (r *ollamaResponder) generateOnce(ctx context.Context, userText string, snapshot []history.Turn, systemPrompt string, params Params) (string, error) {
	payload := ollamaRequest{
		Model:  params.Model,
		Prompt: flattenPrompt(snapshot, userText),
		System: systemPrompt,
		Stream: true,
		Options: ollamaOptions{
			Temperature: params.Temperature,
			NumPredict:  params.MaxTokens,
			TopP:        params.TopP,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	var accumulated strings.Builder
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", err
		}
		accumulated.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return accumulated.String(), nil
}

func flattenPrompt(snapshot []history.Turn, userText string) string {
	if len(snapshot) == 0 {
		return userText
	}
	var b strings.Builder
	for _, turn := range snapshot {
		switch turn.Role {
		case history.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(userText)
	return b.String()
}
