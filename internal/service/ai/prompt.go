package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/gamechat/backend/internal/model/chat"
)

// SuggestionSchema is the JSON schema the model is asked to follow.
const SuggestionSchema = `{
  "type": "object",
  "properties": {
    "suggestions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "description": {"type": "string"},
          "platform": {"type": "string"},
          "genre": {"type": "string"},
          "rating": {"type": "string"},
          "price": {"type": "string"},
          "imageUrl": {"type": "string"},
          "reasoning": {"type": "string"}
        },
        "required": ["title", "description", "platform", "genre", "rating", "price", "imageUrl", "reasoning"]
      }
    },
    "followUpQuestions": {"type": "array", "items": {"type": "string"}},
    "summary": {"type": "string"}
  },
  "required": ["suggestions", "followUpQuestions", "summary"]
}`

const suggestionInstructions = `You are an expert game recommendation assistant with deep knowledge of games across all platforms, genres, and eras.

Your task is to provide intelligent, personalized game recommendations based on user queries. Always respond with a JSON object containing:

1. "suggestions": An array of 2-4 specific game recommendations, each with:
   - "title": Exact game name
   - "description": Compelling 1-2 sentence description focusing on what makes it special
   - "platform": Primary platform (PC, PlayStation, Xbox, Nintendo Switch, Mobile, etc.)
   - "genre": Primary genre (RPG, Action, Racing, Puzzle, etc.)
   - "rating": User rating like "4.2/5" or "9/10"
   - "price": Current price range like "$29.99", "Free", "$10-20"
   - "imageUrl": Leave empty string ""
   - "reasoning": Brief explanation why this fits their request

2. "followUpQuestions": 2-3 relevant follow-up questions to continue the conversation

3. "summary": A brief, engaging summary of your recommendations

Guidelines:
- Prioritize recent, highly-rated games when possible
- Consider the user's platform preferences, budget, and gaming style
- Provide diverse options (different genres/styles) unless they ask for something specific
- Be conversational and enthusiastic about gaming
- If they mention a specific game, understand what they liked about it
- Consider accessibility, replayability, and community aspects
- Mention if games are on sale, have DLC, or are part of subscription services

Return only the JSON object, without markdown fences or extra text. It must validate against this JSON schema:
` + SuggestionSchema

func titlePrompt(firstMessage string) string {
	return fmt.Sprintf("Generate a short, descriptive title (max 6 words) for a game recommendation chat based on this user message: %q. "+
		"Focus on the key gaming interest (genre, platform, mood, etc.). Respond with just the title, no quotes or extra text.",
		strings.TrimSpace(firstMessage))
}

// renderConversation renders history as "Role: content" lines followed by the
// new user turn and an open assistant cue. A trailing history entry that is
// the new user turn itself is rendered only once.
func renderConversation(userText string, history []Turn) string {
	userText = strings.TrimSpace(userText)
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == chat.RoleUser && strings.TrimSpace(last.Content) == userText {
			history = history[:n-1]
		}
	}

	var builder strings.Builder
	for _, turn := range history {
		builder.WriteString(roleLabel(turn.Role))
		builder.WriteString(": ")
		builder.WriteString(strings.TrimSpace(turn.Content))
		builder.WriteString("\n")
	}
	builder.WriteString("User: ")
	builder.WriteString(userText)
	builder.WriteString("\nAssistant:")
	return builder.String()
}

func roleLabel(role chat.Role) string {
	if role == chat.RoleAssistant {
		return "Assistant"
	}
	return "User"
}
