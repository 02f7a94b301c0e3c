package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/progpt/backend/internal/config"
	"github.com/zhouzirui/progpt/backend/internal/model/chat"
)

// FallbackReply is stored and relayed when the provider answers with no content.
const FallbackReply = "Something went wrong."

var ErrStreamingDisabled = errors.New("streaming disabled in configuration")

// Service forwards a thread's messages to the chat-completion provider.
type Service struct {
	cfg   config.AIConfig
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the provider model from cfg and wraps it.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg)
}

// NewServiceWithModel wraps an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig) (*Service, error) {
	templates := make([]schema.MessagesTemplate, 0, 2)
	if strings.TrimSpace(cfg.SystemPrompt) != "" {
		templates = append(templates, schema.SystemMessage("{system}"))
	}
	templates = append(templates, schema.MessagesPlaceholder("history", false))

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(prompt.FromMessages(schema.FString, templates...))
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		cfg:   cfg,
		chain: runnable,
	}, nil
}

// StreamingEnabled reports whether replies should be relayed chunk by chunk.
func (s *Service) StreamingEnabled() bool {
	return s.cfg.Stream
}

// Reply sends the whole thread and returns the assistant's text.
func (s *Service) Reply(ctx context.Context, messages []chat.Message) (string, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(messages))
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}

	slog.Debug("generated reply", "component", "ai", "messages", len(messages), "length", len(response.Content))
	return ContentOrFallback(response.Content), nil
}

// Stream relays the provider's reply chunk by chunk.
func (s *Service) Stream(ctx context.Context, messages []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, ErrStreamingDisabled
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(messages))
	if err != nil {
		return nil, fmt.Errorf("failed to stream chat chain output: %w", err)
	}
	return stream, nil
}

// ContentOrFallback substitutes FallbackReply for empty provider output.
// Any other content, whitespace included, is relayed as is.
func ContentOrFallback(content string) string {
	if content == "" {
		return FallbackReply
	}
	return content
}

func (s *Service) buildChainInput(messages []chat.Message) map[string]any {
	input := map[string]any{
		"history": buildHistoryMessages(messages),
	}
	if strings.TrimSpace(s.cfg.SystemPrompt) != "" {
		input["system"] = s.cfg.SystemPrompt
	}
	return input
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
