package llm

import (
	"context"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/fault"
	"github.com/parleylabs/parley-core/internal/history"
)

// openaiResponder talks to any OpenAI-compatible chat-completions
// endpoint (DeepSeek, Qwen/DashScope and friends accept the same wire
// format behind a different base URL). Retries are bounded by the
// provider's max_retries setting and handled by the client; no ad hoc
// reconnect loops.
type openaiResponder struct {
	client openai.Client
}

// NewOpenAIResponder builds the client from provider config. The
// credential is resolved from the named environment variable; the value
// itself is never logged.
func NewOpenAIResponder(cfg config.LLMProviderConfig) (Responder, error) {
	if cfg.CredentialEnv == "" {
		return nil, fault.New(fault.KindConfig, "llm provider requires credential_env")
	}
	key := os.Getenv(cfg.CredentialEnv)
	if key == "" {
		return nil, fault.New(fault.KindConfig, "credential %s is not set", cfg.CredentialEnv)
	}
	client := openai.NewClient(
		option.WithBaseURL(cfg.Endpoint),
		option.WithAPIKey(key),
		option.WithMaxRetries(cfg.MaxRetries),
	)
	return &openaiResponder{client: client}, nil
}

func (r *openaiResponder) Generate(ctx context.Context, userText string, snapshot []history.Turn, systemPrompt string, params Params) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(snapshot)+2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	for _, turn := range snapshot {
		switch turn.Role {
		case history.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(userText))

	req := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(params.Model),
		Messages: messages,
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}
	if params.TopP > 0 {
		req.TopP = openai.Float(params.TopP)
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}

	resp, err := r.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", fault.Wrap(fault.KindGeneration, err, "chat completion request failed")
	}
	if len(resp.Choices) == 0 {
		return "", fault.New(fault.KindGeneration, "chat completion returned no choices")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fault.New(fault.KindGeneration, "chat completion returned empty content")
	}
	return content, nil
}
