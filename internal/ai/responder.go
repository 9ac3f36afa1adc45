// Package ai generates conversational replies with Gemini, tuned by the
// operator-editable prompt sheet.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"sheetbot/internal/history"
	"sheetbot/internal/sheets"
)

const (
	defaultSystemPrompt = "Eres un asistente virtual amable y profesional. Responde de forma breve y clara."
	fallbackReply       = "Lo siento, no puedo responder en este momento. Intenta de nuevo más tarde."

	defaultTemperature = float32(0.7)
	defaultMaxTokens   = int32(500)
	defaultTopP        = float32(0.9)
)

// settings is the generation tuning read from the prompt sheet. Malformed
// values fall back to defaults so a sheet typo never breaks replies.
type settings struct {
	SystemPrompt string
	Temperature  float32
	MaxTokens    int32
	TopP         float32
}

// Responder answers free-form messages using the contact's recent history
// as context. Successful exchanges are persisted so follow-ups stay coherent.
type Responder struct {
	generate func(ctx context.Context, prompt string, cfg settings) (string, error)
	gateway  sheets.Gateway
	history  history.Store
	ctxDepth int
}

func NewResponder(ctx context.Context, apiKey, model string, gateway sheets.Gateway, store history.Store, contextMessages int) (*Responder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Responder{
		generate: func(ctx context.Context, prompt string, cfg settings) (string, error) {
			resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
				SystemInstruction: genai.NewContentFromText(cfg.SystemPrompt, genai.RoleUser),
				Temperature:       genai.Ptr(cfg.Temperature),
				MaxOutputTokens:   cfg.MaxTokens,
				TopP:              genai.Ptr(cfg.TopP),
			})
			if err != nil {
				return "", err
			}
			return resp.Text(), nil
		},
		gateway:  gateway,
		history:  store,
		ctxDepth: contextMessages,
	}, nil
}

// Reply generates an answer for userInput from phone. The prompt is built
// from history before anything is written, and both turns are recorded only
// after a successful generation. It never returns an error to the caller:
// generation failures become an apology so the contact always gets a
// response.
func (r *Responder) Reply(ctx context.Context, phone, userInput string) string {
	cfg := parseSettings(r.gateway.GetPrompts(ctx))
	prompt := r.buildPrompt(ctx, phone, userInput)

	raw, err := r.generate(ctx, prompt, cfg)
	if err != nil {
		slog.Error("gemini generation failed", "phone", phone, "error", err)
		return fallbackReply
	}

	answer := strings.TrimSpace(raw)
	if answer == "" {
		slog.Warn("gemini returned empty response", "phone", phone)
		return fallbackReply
	}

	if err := r.history.Record(ctx, phone, history.RoleUser, userInput); err != nil {
		slog.Warn("failed to record user message", "phone", phone, "error", err)
	}
	if err := r.history.Record(ctx, phone, history.RoleAssistant, answer); err != nil {
		slog.Warn("failed to record assistant reply", "phone", phone, "error", err)
	}
	return answer
}

// buildPrompt prepends the contact's recent exchanges so the model sees the
// running conversation, not just the last message.
func (r *Responder) buildPrompt(ctx context.Context, phone, userInput string) string {
	var sb strings.Builder

	msgs, err := r.history.Context(ctx, phone, r.ctxDepth)
	if err != nil {
		slog.Warn("failed to load conversation context", "phone", phone, "error", err)
	}
	for _, m := range msgs {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	sb.WriteString(history.RoleUser)
	sb.WriteString(": ")
	sb.WriteString(userInput)
	sb.WriteString("\n")
	sb.WriteString(history.RoleAssistant)
	sb.WriteString(": ")
	return sb.String()
}

// parseSettings coerces the prompt sheet's string values into generation
// parameters, keeping defaults for anything missing or malformed.
func parseSettings(raw map[string]string) settings {
	cfg := settings{
		SystemPrompt: defaultSystemPrompt,
		Temperature:  defaultTemperature,
		MaxTokens:    defaultMaxTokens,
		TopP:         defaultTopP,
	}

	if v := strings.TrimSpace(raw["system_prompt"]); v != "" {
		cfg.SystemPrompt = v
	}
	if v, ok := raw["temperature"]; ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 32); err == nil && f >= 0 && f <= 2 {
			cfg.Temperature = float32(f)
		}
	}
	if v, ok := raw["max_tokens"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.MaxTokens = int32(n)
		}
	}
	if v, ok := raw["top_p"]; ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 32); err == nil && f > 0 && f <= 1 {
			cfg.TopP = float32(f)
		}
	}
	return cfg
}
