package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	coreconfig "github.com/m3rciful/walletbot/core/config"
	"github.com/m3rciful/walletbot/core/logger"
	tghelpers "github.com/m3rciful/walletbot/core/telegram/helpers"
	tgsender "github.com/m3rciful/walletbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// DefaultAPIURL is the Bot API root used for requests made outside telebot.
const DefaultAPIURL = "https://api.telegram.org"

// Middleware is a global middleware registered via bot.Use.
type Middleware struct {
	Name string
	Use  tele.MiddlewareFunc
	// Close, if set, runs after the bot stops and drains pending work.
	Close func()
}

// Route binds a handler to a telebot endpoint.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry

	DispatcherOptions tgsender.Options
	Middlewares       []Middleware
	Routes            []Route

	// APIURL overrides DefaultAPIURL for the webhook cleanup call.
	APIURL                string
	DisableWebhookCleanup bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes running components to lifecycle hooks.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
}

// RunTelegram builds the bot, wires middlewares and routes, and serves
// updates until ctx is cancelled. Cancellation is a clean exit.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if opts.Config == nil {
		return errors.New("telegram: nil config")
	}
	defer CloseMiddlewares(opts.Middlewares)
	cfg := opts.Config
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	client := BuildHTTPClient(HTTPClientOptions{})
	poller := BuildPoller(cfg)

	start := time.Now()
	bot, err := tele.NewBot(botSettings(cfg.Telegram.Token, poller, client))
	if err != nil {
		return fmt.Errorf("telegram: new bot: %w", err)
	}
	logger.Info(ctx, "tg", "mode",
		slog.String("mode", cfg.Telegram.RunMode),
		slog.String("bot", bot.Me.Username),
		slog.Duration("duration", logger.Took(start)),
	)

	if cfg.Telegram.RunMode == coreconfig.RunModeLongpoll && !opts.DisableWebhookCleanup {
		// getUpdates fails while a webhook is set.
		err := deleteWebhook(ctx, client, opts.apiURL(), cfg.Telegram.Token)
		if err != nil {
			logger.Warn(ctx, "tg", "delete_webhook", slog.String("status", "fail"), slog.String("err", logger.Sanitize(err.Error())))
		} else {
			logger.Debug(ctx, "tg", "delete_webhook", slog.String("status", "ok"))
		}
	}

	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	for _, r := range opts.Routes {
		if r.Endpoint != nil && r.Handler != nil {
			bot.Handle(r.Endpoint, r.Handler)
		}
	}
	if err := PublishCommands(ctx, bot, reg); err != nil {
		logger.Warn(ctx, "tg", "commands", slog.String("status", "fail"))
	}

	dispatcher := tgsender.NewDispatcher(opts.DispatcherOptions)
	tghelpers.SetDispatcher(dispatcher)
	defer func() {
		dispatcher.Close()
		tghelpers.SetDispatcher(nil)
	}()

	rt := Runtime{Bot: bot, Dispatcher: dispatcher, Registry: reg}
	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()

	select {
	case <-ctx.Done():
		bot.Stop()
		<-done
	case <-done:
	}
	CloseMiddlewares(opts.Middlewares)

	if opts.OnStop != nil {
		return opts.OnStop(context.WithoutCancel(ctx), rt)
	}
	return nil
}

// botSettings keeps update handling on the poller goroutine, so updates reach
// the first middleware in the order Telegram delivered them.
func botSettings(token string, poller tele.Poller, client *http.Client) tele.Settings {
	return tele.Settings{Token: token, Poller: poller, Client: client, Synchronous: true}
}

func (o RunOptions) apiURL() string {
	if strings.TrimSpace(o.APIURL) == "" {
		return DefaultAPIURL
	}
	return strings.TrimRight(o.APIURL, "/")
}

// deleteWebhook removes a webhook left by a previous webhook-mode run.
// Pending updates are kept.
func deleteWebhook(ctx context.Context, client *http.Client, apiURL, token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("deleteWebhook: empty token")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := resty.NewWithClient(client).R().
		SetContext(ctx).
		SetFormData(map[string]string{"drop_pending_updates": "false"}).
		Post(apiURL + "/bot" + token + "/deleteWebhook")
	if err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	body := resp.Body()
	if !gjson.GetBytes(body, "ok").Bool() {
		desc := gjson.GetBytes(body, "description").String()
		if desc == "" {
			desc = resp.Status()
		}
		return fmt.Errorf("deleteWebhook: %s", desc)
	}
	return nil
}
