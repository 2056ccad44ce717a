package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
)

const defaultSystemPrompt = "You write promotional copy for professional training sessions. " +
	"Reply with a JSON object containing the fields headline, summary and highlights."

// ChatClient is the part of the go-openai client the generator uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatGenerator generates content through an OpenAI-compatible chat
// completion endpoint.
type ChatGenerator struct {
	client       ChatClient
	model        string
	systemPrompt string
}

// NewChatGenerator wraps an existing chat client.
func NewChatGenerator(client ChatClient, model string) (*ChatGenerator, error) {
	if client == nil {
		return nil, errors.New("chat client is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &ChatGenerator{client: client, model: model, systemPrompt: defaultSystemPrompt}, nil
}

// NewChatGeneratorFromKey builds a generator on the default go-openai HTTP
// client. baseURL may point at any OpenAI-compatible endpoint.
func NewChatGeneratorFromKey(apiKey, baseURL, model string) (*ChatGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewChatGenerator(openai.NewClientWithConfig(cfg), model)
}

// Generate implements Generator.
func (g *ChatGenerator) Generate(ctx context.Context, snap session.Snapshot) (Generated, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: describe(snap)},
		},
	})
	if err != nil {
		return Generated{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Generated{}, errors.New("chat completion returned no choices")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	body := json.RawMessage(reply)
	if !gjson.Valid(reply) || !gjson.Parse(reply).IsObject() {
		wrapped, err := json.Marshal(map[string]string{"text": reply})
		if err != nil {
			return Generated{}, err
		}
		body = wrapped
	}

	meta := map[string]string{"generator": "chat", "model": resp.Model}
	if meta["model"] == "" {
		meta["model"] = g.model
	}
	if resp.Choices[0].FinishReason != "" {
		meta["finish_reason"] = string(resp.Choices[0].FinishReason)
	}
	return Generated{Content: body, Metadata: meta}, nil
}

func describe(snap session.Snapshot) string {
	s := snap.Session
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", s.Title)
	if s.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", s.Description)
	}
	if s.HasSchedule() {
		fmt.Fprintf(&b, "Schedule: %s to %s\n", s.StartsAt.Format("2006-01-02 15:04"), s.EndsAt.Format("2006-01-02 15:04 MST"))
	}
	if len(s.Topics) > 0 {
		b.WriteString("Topics:\n")
		for _, t := range s.Topics {
			fmt.Fprintf(&b, "- %s (%d min): %s\n", t.Title, t.DurationMinutes, t.Description)
		}
	}
	fmt.Fprintf(&b, "Seats: %d\n", s.MaxRegistrations)
	return b.String()
}
