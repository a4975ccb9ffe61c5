package briefing

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

// SystemPrompt instructs the model to summarize a computed route
const SystemPrompt = `You are a campus navigation assistant. You receive a computed route as JSON
(travel mode, total distance in meters, total duration in seconds, legs with origin and
destination names, and the turn-by-turn instructions) and write a short briefing for the traveler.

Instructions:
- Use only facts present in the input. Never invent landmarks, street names or hazards.
- Round distances to a friendly precision (e.g. "1.4 km", "300 m") and durations to minutes.
- Mention intermediate stops in order when the route has more than one leg.
- Keep the summary to one or two sentences, at most 240 characters.
- Highlights are up to 3 short phrases naming the key turns or streets, in travel order.

Return valid JSON with these exact fields:
- summary (string) - the briefing text
- highlights (array of strings) - key turns, may be empty`

// BriefingSchema defines the JSON schema for structured briefing output
var BriefingSchema = openai.ChatCompletionResponseFormatJSONSchema{
	Name:   "route_briefing",
	Strict: true,
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"summary": {
				"type": "string",
				"description": "One or two sentence route overview, max 240 chars"
			},
			"highlights": {
				"type": "array",
				"items": { "type": "string" },
				"description": "Up to 3 key turns or streets in travel order"
			}
		},
		"required": ["summary", "highlights"],
		"additionalProperties": false
	}`),
}
