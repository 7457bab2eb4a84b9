package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/gamechat/backend/internal/logging"
	"github.com/zhouzirui/gamechat/backend/internal/metrics"
)

// FallbackTitle is used whenever title generation fails.
const FallbackTitle = "Game Recommendations"

const (
	opSuggestions = "get game suggestions"
	opTitle       = "generate chat title"
)

// Recommender is the boundary to the generative model.
type Recommender interface {
	// GetSuggestions asks for structured game suggestions. Failures are
	// returned as *AIRequestError.
	GetSuggestions(ctx context.Context, userText string, history []Turn) (*SuggestionResponse, error)
	// GenerateTitle returns a short session title. Callers are expected to
	// degrade with TitleOrFallback instead of failing.
	GenerateTitle(ctx context.Context, firstMessage string) (string, error)
}

// TitleOrFallback maps a failed title generation to FallbackTitle.
func TitleOrFallback(title string, err error) string {
	if err != nil || strings.TrimSpace(title) == "" {
		return FallbackTitle
	}
	return title
}

// Service talks to the chat model through two compiled eino chains.
type Service struct {
	suggestions compose.Runnable[map[string]any, *schema.Message]
	title       compose.Runnable[map[string]any, *schema.Message]
}

var _ Recommender = (*Service)(nil)

// NewService compiles the suggestion and title chains around chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	suggestions, err := compileChain(ctx, chatModel, prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{instructions}"),
		schema.UserMessage("{conversation}"),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to compile suggestion chain: %w", err)
	}

	title, err := compileChain(ctx, chatModel, prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{request}"),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to compile title chain: %w", err)
	}

	return &Service{
		suggestions: suggestions,
		title:       title,
	}, nil
}

func compileChain(ctx context.Context, chatModel model.ChatModel, tpl prompt.ChatTemplate) (compose.Runnable[map[string]any, *schema.Message], error) {
	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tpl)
	chain.AppendChatModel(chatModel)
	return chain.Compile(ctx)
}

// GetSuggestions runs a single attempt against the model; there is no retry.
func (s *Service) GetSuggestions(ctx context.Context, userText string, history []Turn) (*SuggestionResponse, error) {
	started := time.Now()
	result, err := s.getSuggestions(ctx, userText, history)
	metrics.ObserveAIRequest("suggestions", started, err)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Int("history", len(history)).Msg("suggestion request failed")
		return nil, &AIRequestError{Op: opSuggestions, Err: err}
	}

	logging.Ctx(ctx).Debug().
		Int("suggestions", len(result.Suggestions)).
		Int("follow_ups", len(result.FollowUpQuestions)).
		Dur("duration", time.Since(started)).
		Msg("suggestions generated")
	return result, nil
}

func (s *Service) getSuggestions(ctx context.Context, userText string, history []Turn) (*SuggestionResponse, error) {
	response, err := s.suggestions.Invoke(ctx, map[string]any{
		"instructions": suggestionInstructions,
		"conversation": renderConversation(userText, history),
	})
	if err != nil {
		return nil, err
	}
	if response == nil {
		return nil, ErrEmptyResponse
	}
	return ParseSuggestionResponse(response.Content)
}

// GenerateTitle asks the model for a title of at most six words. The length
// is requested, not enforced.
func (s *Service) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	started := time.Now()
	title, err := s.generateTitle(ctx, firstMessage)
	metrics.ObserveAIRequest("title", started, err)
	if err != nil {
		return "", &AIRequestError{Op: opTitle, Err: err}
	}
	return title, nil
}

func (s *Service) generateTitle(ctx context.Context, firstMessage string) (string, error) {
	response, err := s.title.Invoke(ctx, map[string]any{
		"request": titlePrompt(firstMessage),
	})
	if err != nil {
		return "", err
	}
	if response == nil {
		return "", ErrEmptyResponse
	}

	title := cleanTitle(response.Content)
	if title == "" {
		return "", ErrEmptyResponse
	}
	return title, nil
}

// cleanTitle keeps the first non-empty line and strips wrapping quotes.
func cleanTitle(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "\"'`*#")
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			return line
		}
	}
	return ""
}
