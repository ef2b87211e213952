package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "tagdesk/pkg/logx"
)

const telegramTextLimit = 4096

type TelegramConfig struct {
	Token      string
	ChatID     int64
	ThreadID   int
	RatePerSec int
	// APIURL overrides the Bot API endpoint.
	APIURL string
}

// TelegramSink posts alerts to one operator chat.
type TelegramSink struct {
	bot     *tele.Bot
	chat    *tele.Chat
	thread  int
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	// Offline skips getMe; the sink only sends.
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TelegramSink{
		bot:     b,
		chat:    &tele.Chat{ID: cfg.ChatID},
		thread:  cfg.ThreadID,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log.With(logx.String("comp", "alert.telegram")),
	}, nil
}

func (s *TelegramSink) Notify(ctx context.Context, a Alert) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	text := truncate(a.String(), telegramTextLimit)
	start := time.Now()
	_, err := s.bot.Send(s.chat, text, &tele.SendOptions{
		ThreadID:              s.thread,
		DisableWebPagePreview: true,
	})
	if err != nil {
		s.log.Warn("alert not delivered", logx.String("op", a.Op), logx.Err(err))
		return fmt.Errorf("telegram alert: %w", err)
	}
	s.log.Debug("alert delivered", logx.String("op", a.Op), logx.Duration("took", time.Since(start)))
	return nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	rs := []rune(s)
	return string(rs[:limit-1]) + "…"
}
