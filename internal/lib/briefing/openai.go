package briefing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/campusmap/navcore/server/internal/lib/route"
)

// maxInstructions bounds the prompt size for long routes
const maxInstructions = 40

// ChatCompleter is the subset of *openai.Client used for briefings
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// openAIBriefer implements Briefer using OpenAI chat completions
type openAIBriefer struct {
	client ChatCompleter
	model  string
	now    func() time.Time
}

// NewOpenAIBriefer creates a Briefer backed by OpenAI. It returns nil when apiKey is empty.
func NewOpenAIBriefer(apiKey, model string) Briefer {
	if apiKey == "" {
		return nil
	}
	return NewOpenAIBrieferWithClient(openai.NewClient(apiKey), model)
}

// NewOpenAIBrieferWithClient creates a Briefer with a custom chat client
func NewOpenAIBrieferWithClient(client ChatCompleter, model string) Briefer {
	return &openAIBriefer{client: client, model: model, now: time.Now}
}

type routeDigest struct {
	Mode          route.TravelMode `json:"mode"`
	TotalDistance float64          `json:"total_distance_meters"`
	TotalDuration float64          `json:"total_duration_seconds"`
	Legs          []legDigest      `json:"legs"`
}

type legDigest struct {
	From         string   `json:"from"`
	To           string   `json:"to"`
	Instructions []string `json:"instructions"`
}

func digest(r *route.Route) routeDigest {
	d := routeDigest{
		Mode:          r.Mode,
		TotalDistance: r.TotalDistanceMeters,
		TotalDuration: r.TotalDurationSeconds,
		Legs:          make([]legDigest, len(r.Legs)),
	}
	budget := maxInstructions
	for i, leg := range r.Legs {
		d.Legs[i] = legDigest{From: leg.OriginName, To: leg.DestinationName}
		for _, step := range leg.Steps {
			if budget == 0 {
				break
			}
			d.Legs[i].Instructions = append(d.Legs[i].Instructions, step.InstructionText)
			budget--
		}
	}
	return d
}

// Brief asks the model for a structured briefing
func (b *openAIBriefer) Brief(ctx context.Context, r *route.Route) (Briefing, error) {
	if r == nil {
		return Briefing{}, fmt.Errorf("%w: no route to brief", route.ErrNoRouteFound)
	}

	payload, err := json.Marshal(digest(r))
	if err != nil {
		return Briefing{}, fmt.Errorf("failed to encode route digest: %w", err)
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: SystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Write a briefing for this route:\n" + string(payload),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type:       openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &BriefingSchema,
		},
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil {
		return Briefing{}, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Briefing{}, errors.New("no response from OpenAI API")
	}

	var parsed struct {
		Summary    string   `json:"summary"`
		Highlights []string `json:"highlights"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return Briefing{}, fmt.Errorf("failed to parse OpenAI JSON response: %w", err)
	}
	if parsed.Summary == "" {
		return Briefing{}, errors.New("OpenAI response has an empty summary")
	}
	if len(parsed.Highlights) > 3 {
		parsed.Highlights = parsed.Highlights[:3]
	}

	return Briefing{
		Summary:     parsed.Summary,
		Highlights:  parsed.Highlights,
		Source:      SourceOpenAI,
		Model:       b.model,
		GeneratedAt: b.now(),
	}, nil
}
