// Package telegram implements transport.Sender on top of the Bot API.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"pacer/internal/transport"
	"pacer/pkg/logx"
)

// Telegram rejects messages above 4096 chars; stay below with margin.
const maxMessageRunes = 4000

type Config struct {
	Token string
	// Timeout bounds a single send call.
	Timeout time.Duration
}

type Adapter struct {
	bot     *tele.Bot
	log     logx.Logger
	timeout time.Duration
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram: empty token")
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Adapter{bot: bot, log: log, timeout: timeout}, nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.Target, text string, opt *transport.SendOptions) error {
	if a == nil || a.bot == nil {
		return errors.New("telegram: adapter not initialized")
	}
	if to.ChatID == 0 {
		return errors.New("telegram: target chat_id is zero")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sendOpts := &tele.SendOptions{}
	if opt != nil {
		sendOpts.ParseMode = opt.ParseMode
		sendOpts.DisableWebPagePreview = opt.DisablePreview
		sendOpts.ThreadID = to.ThreadID
	} else {
		sendOpts.ThreadID = to.ThreadID
	}

	chat := &tele.Chat{ID: to.ChatID}

	for _, chunk := range splitText(text, maxMessageRunes) {
		if err := ctx.Err(); err != nil {
			return err
		}

		done := make(chan error, 1)
		go func(part string) {
			_, err := a.bot.Send(chat, part, sendOpts)
			done <- err
		}(chunk)

		timer := time.NewTimer(a.timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			a.log.Warn("telegram send timed out", logx.Int64("chat_id", to.ChatID))
			return context.DeadlineExceeded
		case err := <-done:
			timer.Stop()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	if a == nil || a.bot == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		a.bot.Stop()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// splitText breaks text into chunks of at most limit runes, preferring to
// break on newlines so multi-line reports stay readable.
func splitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, string(runes))
			break
		}

		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}

		part := strings.TrimRight(string(runes[:cut]), "\n")
		if part != "" {
			parts = append(parts, part)
		}
		runes = runes[cut:]
	}
	return parts
}
