// Package bot routes incoming messages: keyword flows first, the AI
// responder as the catch-all.
package bot

import (
	"context"
	"log/slog"
	"strings"

	"sheetbot/internal/dispatch"
	"sheetbot/internal/history"
	"sheetbot/internal/model"
	"sheetbot/internal/sheets"
)

// Replier produces a free-form answer for messages no flow matched.
type Replier interface {
	Reply(ctx context.Context, phone, userInput string) string
}

type Bot struct {
	gateway sheets.Gateway
	sender  dispatch.Sender
	history history.Store
	ai      Replier
}

// New builds the router. ai may be nil, in which case unmatched messages
// are dropped.
func New(gateway sheets.Gateway, sender dispatch.Sender, store history.Store, ai Replier) *Bot {
	return &Bot{
		gateway: gateway,
		sender:  sender,
		history: store,
		ai:      ai,
	}
}

// HandleIncoming answers one inbound message. The first flow whose keyword
// appears in the text wins, in sheet order; case does not matter.
func (b *Bot) HandleIncoming(ctx context.Context, from, text string) {
	lower := strings.ToLower(text)

	for _, flow := range b.gateway.GetFlows(ctx) {
		keyword := strings.ToLower(strings.TrimSpace(flow.Keyword))
		if keyword == "" || !strings.Contains(lower, keyword) {
			continue
		}

		slog.Info("flow matched", "from", from, "keyword", flow.Keyword)
		b.reply(ctx, from, text, flow)
		return
	}

	if b.ai == nil {
		slog.Debug("no flow matched and ai disabled, dropping message", "from", from)
		return
	}

	answer := b.ai.Reply(ctx, from, text)
	if answer == "" {
		return
	}
	b.send(ctx, from, answer, "")
}

func (b *Bot) reply(ctx context.Context, from, text string, flow model.Flow) {
	if err := b.history.Record(ctx, from, history.RoleUser, text); err != nil {
		slog.Warn("failed to record incoming message", "from", from, "error", err)
	}
	if err := b.history.Record(ctx, from, history.RoleAssistant, flow.Answer); err != nil {
		slog.Warn("failed to record flow answer", "from", from, "error", err)
	}
	b.send(ctx, from, flow.Answer, flow.Media)
}

func (b *Bot) send(ctx context.Context, from, answer, media string) {
	to := dispatch.FormatAddress(from)
	if err := b.sender.Send(ctx, to, answer, media); err != nil {
		slog.Error("failed to send reply", "to", to, "error", err)
	}
}
