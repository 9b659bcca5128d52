package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"globiagent/internal/agent"
)

const maxMessageLen = 4000

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	text := strings.Join([]string{
		"Finds recorded interactions between organisms of different taxonomic groups.",
		"",
		"Commands:",
		"/interactions <request>  e.g. /interactions What eats Naja naja?",
		"/types  list the interaction types GloBI knows",
		"/help",
	}, "\n")
	return s.reply(ctx, b, text)
}

func (s *Service) start(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.help(b, ctx)
}

func (s *Service) listTypes(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.reply(ctx, b, truncate("Interaction types:\n"+strings.Join(s.types.Sorted(), ", "), maxMessageLen))
}

func (s *Service) interactions(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil {
		return nil
	}
	request := strings.TrimSpace(commandRemainder(msg.GetText()))
	if request == "" {
		return s.reply(ctx, b, "Usage: /interactions <request>")
	}

	if !s.allowRate(userID(ctx), b, ctx) {
		return nil
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	sink := &chatSink{bot: b, chatID: ctx.EffectiveChat.Id, replyTo: msg.MessageId}
	if err := s.agent.Run(runCtx, request, agent.EntrypointFindInteractions, sink); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", ctx.EffectiveChat.Id).Msg("interactions run failed")
		return s.reply(ctx, b, "Sorry, the search failed: "+err.Error())
	}
	return nil
}

func (s *Service) allowRate(uid int64, b *gotgbot.Bot, ctx *ext.Context) bool {
	if uid == 0 || s.rateLimiter == nil {
		return true
	}
	d, err := s.rateLimiter.Allow(context.Background(), fmt.Sprintf("tg:%d", uid), s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter failed")
		return true
	}
	if d.Allowed {
		return true
	}
	s.metrics.RateLimited.Inc()
	_ = s.reply(ctx, b, "Rate limit exceeded. Try again after "+d.ResetAt.Format("15:04 UTC"))
	return false
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, nil)
	return err
}

func commandRemainder(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func userID(ctx *ext.Context) int64 {
	if ctx.EffectiveUser == nil {
		return 0
	}
	return ctx.EffectiveUser.Id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
