package llm

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

// langchainProvider adapts any langchaingo model.
type langchainProvider struct {
	model llms.Model
	// Keys of the usage counters in the choice's GenerationInfo.
	promptKey, completionKey string
}

func NewOpenAI(cfg Config) (Provider, error) {
	opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create openai client")
	}
	return &langchainProvider{model: model, promptKey: "PromptTokens", completionKey: "CompletionTokens"}, nil
}

func NewAnthropic(cfg Config) (Provider, error) {
	opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey), anthropic.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	model, err := anthropic.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create anthropic client")
	}
	return &langchainProvider{model: model, promptKey: "InputTokens", completionKey: "OutputTokens"}, nil
}

func (p *langchainProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.Messages {
		messages = append(messages, llms.TextParts(messageType(m.Role), m.Content))
	}

	var opts []llms.CallOption
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.OnToken != nil {
		opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return req.OnToken(ctx, string(chunk))
		}))
	}

	resp, err := p.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "completion failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty completion")
	}

	choice := resp.Choices[0]
	result := &Response{Content: choice.Content}
	prompt, okPrompt := usage(choice.GenerationInfo, p.promptKey)
	completion, okCompletion := usage(choice.GenerationInfo, p.completionKey)
	if okPrompt && okCompletion {
		result.PromptTokens, result.CompletionTokens, result.UsageReported = prompt, completion, true
	}
	return result, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// usage reads a token counter out of GenerationInfo. Zero counts are treated
// as unreported since streaming responses often omit usage.
func usage(info map[string]any, key string) (int, bool) {
	var n int
	switch v := info[key].(type) {
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	default:
		return 0, false
	}
	return n, n > 0
}
