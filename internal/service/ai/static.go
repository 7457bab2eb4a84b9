package ai

import (
	"context"
	"fmt"
	"strings"
)

// StaticRecommender answers without calling a model. It keeps the HTTP
// surface usable in development when no Ark credentials are configured.
type StaticRecommender struct {
	catalog []Suggestion
}

var _ Recommender = (*StaticRecommender)(nil)

// NewStaticRecommender returns a recommender backed by a small fixed catalog.
func NewStaticRecommender() *StaticRecommender {
	return &StaticRecommender{catalog: []Suggestion{
		{Title: "Hades", Description: "A fast, stylish roguelike where every failed escape pushes the story forward.", Platform: "PC", Genre: "Roguelike", Rating: "9/10", Price: "$24.99", Reasoning: "tight combat, short runs"},
		{Title: "Stardew Valley", Description: "Restore a family farm, befriend a town and play at your own pace.", Platform: "Nintendo Switch", Genre: "Simulation", Rating: "4.8/5", Price: "$14.99", Reasoning: "relaxing, endlessly replayable"},
		{Title: "Forza Horizon 5", Description: "An open-world festival of racing across a huge, gorgeous Mexico.", Platform: "Xbox", Genre: "Racing", Rating: "9/10", Price: "$59.99", Reasoning: "accessible and spectacular"},
		{Title: "Portal 2", Description: "Clever physics puzzles with one of gaming's funniest scripts, plus co-op.", Platform: "PC", Genre: "Puzzle", Rating: "9.5/10", Price: "$9.99", Reasoning: "great for puzzle fans"},
		{Title: "Elden Ring", Description: "A vast, mysterious open world full of brutal bosses and hidden secrets.", Platform: "PlayStation", Genre: "RPG", Rating: "9.5/10", Price: "$39.99-59.99", Reasoning: "exploration and challenge"},
	}}
}

// GetSuggestions picks catalog entries whose genre or platform is mentioned
// in the conversation, falling back to the first entries.
func (r *StaticRecommender) GetSuggestions(_ context.Context, userText string, history []Turn) (*SuggestionResponse, error) {
	var corpus strings.Builder
	for _, turn := range history {
		corpus.WriteString(strings.ToLower(turn.Content))
		corpus.WriteString(" ")
	}
	corpus.WriteString(strings.ToLower(userText))
	text := corpus.String()

	picked := make([]Suggestion, 0, 3)
	for _, s := range r.catalog {
		if strings.Contains(text, strings.ToLower(s.Genre)) || strings.Contains(text, strings.ToLower(s.Platform)) {
			picked = append(picked, s)
		}
		if len(picked) == 3 {
			break
		}
	}
	for _, s := range r.catalog {
		if len(picked) >= 2 {
			break
		}
		if !containsTitle(picked, s.Title) {
			picked = append(picked, s)
		}
	}

	return &SuggestionResponse{
		Suggestions: picked,
		FollowUpQuestions: []string{
			"Which platform do you play on most?",
			"Do you prefer short sessions or long campaigns?",
		},
		Summary: fmt.Sprintf("Here are %d games that fit what you described.", len(picked)),
	}, nil
}

// GenerateTitle uses the first six words of the message.
func (r *StaticRecommender) GenerateTitle(_ context.Context, firstMessage string) (string, error) {
	words := strings.Fields(firstMessage)
	if len(words) == 0 {
		return "", ErrEmptyResponse
	}
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " "), nil
}

func containsTitle(list []Suggestion, title string) bool {
	for _, s := range list {
		if s.Title == title {
			return true
		}
	}
	return false
}
