package telegram

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"

	"globiagent/internal/agent"
)

const (
	maxCaptionLen    = 1000
	artifactFilename = "interactions.json"
)

type sender interface {
	SendMessage(chatId int64, text string, opts *gotgbot.SendMessageOpts) (*gotgbot.Message, error)
	SendDocument(chatId int64, document gotgbot.InputFileOrString, opts *gotgbot.SendDocumentOpts) (*gotgbot.Message, error)
}

// chatSink relays run events into a chat: progress as messages, the
// artifact as a JSON document replying to the original command.
type chatSink struct {
	bot     sender
	chatID  int64
	replyTo int64
}

func (s *chatSink) Publish(_ context.Context, ev agent.Event) error {
	switch ev.Type {
	case agent.EventBegin:
		return s.send(ev.Summary + "...")
	case agent.EventLog:
		return s.send(formatLog(ev))
	case agent.EventArtifact:
		if ev.Artifact == nil {
			return nil
		}
		doc := gotgbot.InputFileByReader(artifactFilename, bytes.NewReader(ev.Artifact.Content))
		_, err := s.bot.SendDocument(s.chatID, doc, &gotgbot.SendDocumentOpts{
			Caption:         truncate(formatArtifactCaption(ev.Artifact), maxCaptionLen),
			ReplyParameters: s.replyParameters(),
		})
		if err != nil {
			return fmt.Errorf("send artifact: %w", err)
		}
		return nil
	default:
		return nil
	}
}

func (s *chatSink) send(text string) error {
	_, err := s.bot.SendMessage(s.chatID, truncate(text, maxMessageLen), &gotgbot.SendMessageOpts{
		ReplyParameters: s.replyParameters(),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (s *chatSink) replyParameters() *gotgbot.ReplyParameters {
	if s.replyTo == 0 {
		return nil
	}
	return &gotgbot.ReplyParameters{MessageId: s.replyTo, AllowSendingWithoutReply: true}
}

func formatLog(ev agent.Event) string {
	if len(ev.Data) == 0 {
		return ev.Text
	}
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(ev.Text)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, ev.Data[k])
	}
	return b.String()
}

func formatArtifactCaption(a *agent.Artifact) string {
	caption := a.Description
	if src := a.Metadata[agent.MetadataSource]; src != "" {
		caption += "\nSource: " + src
	}
	if u := a.Metadata[agent.MetadataDerivedFrom]; u != "" {
		caption += "\n" + u
	}
	return caption
}
