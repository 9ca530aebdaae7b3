// Package notify pushes best-effort blast summaries to an operator
// Telegram chat. Failures are logged and never affect the request.
package notify

import (
	"fmt"

	tele "gopkg.in/telebot.v4"

	"areacast/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
}

type Summary struct {
	Area     string
	Channel  string
	Backend  string
	Count    int
	Sent     int
	Failed   int
	Cost     float64
	Currency string
}

// Notifier is optional; a nil *Notifier is safe to call.
type Notifier struct {
	bot  *tele.Bot
	chat *tele.Chat
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Notifier, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Notifier{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, log: log}, nil
}

func (n *Notifier) BlastFinished(s Summary) {
	if n == nil {
		return
	}
	prefix := "ℹ️"
	if s.Failed > 0 {
		prefix = "⚠️"
	}
	text := fmt.Sprintf("%s blast %s/%s via %s: %d recipients, %d sent, %d failed, est. %.2f %s",
		prefix, s.Area, s.Channel, s.Backend, s.Count, s.Sent, s.Failed, s.Cost, s.Currency)

	if _, err := n.bot.Send(n.chat, text, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		n.log.Warn("operator notification failed", logx.Err(err), logx.Int64("chat_id", n.chat.ID))
		return
	}
	n.log.Debug("operator notified", logx.Int64("chat_id", n.chat.ID))
}
