package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/fault"
	"github.com/parleylabs/parley-core/internal/history"
)

type execResponder struct {
	cmd []string
	mu  sync.Mutex
}

type execMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type execRequest struct {
	UserText    string        `json:"user_text"`
	System      string        `json:"system,omitempty"`
	History     []execMessage `json:"history,omitempty"`
	Model       string        `json:"model,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

type execResponse struct {
	Content string `json:"content"`
}

func NewExecResponder(cfg config.LLMProviderConfig) (Responder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "parse llm command")
	}
	if len(args) == 0 {
		return nil, fault.New(fault.KindConfig, "llm command is empty")
	}
	return &execResponder{cmd: args}, nil
}

func (g *execResponder) Generate(ctx context.Context, userText string, snapshot []history.Turn, systemPrompt string, params Params) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	msgs := make([]execMessage, 0, len(snapshot))
	for _, turn := range snapshot {
		msgs = append(msgs, execMessage{Role: string(turn.Role), Content: turn.Content})
	}
	payload := execRequest{
		UserText:    userText,
		System:      systemPrompt,
		History:     msgs,
		Model:       params.Model,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return "", fault.Wrap(fault.KindGeneration, err, "encode llm exec request")
	}

	base := g.cmd[0]
	args := append([]string{}, g.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return "", fault.Wrap(fault.KindGeneration, err, "llm exec command failed")
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fault.Wrap(fault.KindGeneration, err, "decode llm exec response")
	}
	return resp.Content, nil
}
