package ai

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/zhouzirui/gamechat/backend/internal/logging"
	"github.com/zhouzirui/gamechat/backend/internal/model/chat"
)

// FallbackSummary replaces a missing or blank summary.
const FallbackSummary = "Here are some great game recommendations for you!"

// Turn is one prior exchange entry handed to the model as context.
type Turn struct {
	Role    chat.Role `json:"role"`
	Content string    `json:"content"`
}

// Suggestion is a single game proposed by the model. Reasoning is only used
// for logging and never persisted.
type Suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Platform    string `json:"platform"`
	Genre       string `json:"genre"`
	Rating      string `json:"rating"`
	Price       string `json:"price"`
	ImageURL    string `json:"imageUrl"`
	Reasoning   string `json:"reasoning"`
}

// SuggestionResponse is the validated model output.
type SuggestionResponse struct {
	Suggestions       []Suggestion `json:"suggestions"`
	FollowUpQuestions []string     `json:"followUpQuestions"`
	Summary           string       `json:"summary"`
}

var (
	ErrEmptyResponse      = errors.New("no response content from model")
	ErrMissingSuggestions = errors.New("invalid response format: missing suggestions array")
)

// ParseSuggestionResponse validates raw model output. Prose or a markdown
// fence around the JSON object is tolerated. An empty suggestions array is
// accepted, items that are not objects are dropped, and followUpQuestions
// and summary are defaulted when absent.
func ParseSuggestionResponse(content string) (*SuggestionResponse, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, ErrEmptyResponse
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("response is not a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &fields); err != nil {
		return nil, fmt.Errorf("parse response JSON: %w", err)
	}

	var rawSuggestions []json.RawMessage
	raw, ok := fields["suggestions"]
	if !ok || isNull(raw) {
		return nil, ErrMissingSuggestions
	}
	if err := json.Unmarshal(raw, &rawSuggestions); err != nil {
		return nil, ErrMissingSuggestions
	}

	result := &SuggestionResponse{
		Suggestions:       make([]Suggestion, 0, len(rawSuggestions)),
		FollowUpQuestions: parseFollowUps(fields["followUpQuestions"]),
		Summary:           FallbackSummary,
	}

	skipped := 0
	for _, item := range rawSuggestions {
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
			skipped++
			continue
		}
		result.Suggestions = append(result.Suggestions, Suggestion{
			Title:       stringField(obj, "title"),
			Description: stringField(obj, "description"),
			Platform:    stringField(obj, "platform"),
			Genre:       stringField(obj, "genre"),
			Rating:      stringField(obj, "rating"),
			Price:       stringField(obj, "price"),
			ImageURL:    stringField(obj, "imageUrl"),
			Reasoning:   stringField(obj, "reasoning"),
		})
	}

	if skipped > 0 {
		logging.Warn().
			Int("skipped", skipped).
			Int("kept", len(result.Suggestions)).
			Msg("ignoring suggestion items that are not objects")
	}

	if raw := fields["summary"]; len(raw) > 0 {
		var summary string
		if err := json.Unmarshal(raw, &summary); err == nil && strings.TrimSpace(summary) != "" {
			result.Summary = strings.TrimSpace(summary)
		}
	}

	return result, nil
}

func parseFollowUps(raw json.RawMessage) []string {
	questions := []string{}
	if len(raw) == 0 {
		return questions
	}

	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return questions
	}
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			questions = append(questions, strings.TrimSpace(s))
		}
	}
	return questions
}

// stringField reads key as a string. Numbers are formatted, anything else
// becomes "".
func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
