package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

type Status int

const (
	Delivered Status = iota + 1
	Failed
)

// Result is what a send attempt produced. Transport problems are reported
// here, never as a panic or error return.
type Result struct {
	Status Status
	Reason string
}

func (r Result) Delivered() bool { return r.Status == Delivered }

func failed(format string, args ...any) Result {
	return Result{Status: Failed, Reason: fmt.Sprintf(format, args...)}
}

const DefaultTimeout = 20 * time.Second

// Telegram delivers plain-text messages through the Bot API.
type Telegram struct {
	api      *tgbotapi.BotAPI
	limiter  *rate.Limiter
	fallback string
	log      *slog.Logger
}

type TelegramOptions struct {
	Token         string
	APIEndpoint   string // tgbotapi.APIEndpoint when empty
	Timeout       time.Duration
	RatePerSecond int
	FallbackChat  string // used when the alert owner has no telegram_id
}

// NewTelegram authenticates the token with getMe before returning.
func NewTelegram(opts TelegramOptions, log *slog.Logger) (*Telegram, error) {
	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	api, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram getMe: %w", err)
	}

	limit := rate.Inf
	burst := 1
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = opts.RatePerSecond
	}
	return &Telegram{
		api:      api,
		limiter:  rate.NewLimiter(limit, burst),
		fallback: strings.TrimSpace(opts.FallbackChat),
		log:      log.With("component", "telegram"),
	}, nil
}

func (t *Telegram) BotName() string { return t.api.Self.UserName }

func (t *Telegram) Send(ctx context.Context, recipient, text string) Result {
	chat := strings.TrimSpace(recipient)
	if chat == "" {
		chat = t.fallback
	}
	if chat == "" {
		return failed("no recipient")
	}

	// numeric ids address users and groups; anything else (@channel) goes
	// through as a channel username
	var msg tgbotapi.MessageConfig
	if chatID, err := strconv.ParseInt(chat, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(chatID, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(chat, text)
	}
	msg.DisableWebPagePreview = true

	if err := t.limiter.Wait(ctx); err != nil {
		return failed("rate limiter: %v", err)
	}
	if _, err := t.api.Send(msg); err != nil {
		t.log.Debug("send failed", "chat", chat, "err", err)
		return failed("%s", truncate(err.Error(), 200))
	}
	return Result{Status: Delivered}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
