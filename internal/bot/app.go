package bot

import (
	"context"
	"fmt"
	"log/slog"

	coreconfig "github.com/m3rciful/walletbot/core/config"
	"github.com/m3rciful/walletbot/core/logger"
	tg "github.com/m3rciful/walletbot/core/telegram"
	"github.com/m3rciful/walletbot/core/telegram/router"
	"github.com/m3rciful/walletbot/core/telegram/state"
	tghelpers "github.com/m3rciful/walletbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// App is the Telegram application: handlers plus the session store they share.
type App struct {
	cfg      *coreconfig.Config
	store    state.Store
	handlers *Handlers
}

// NewApp wires the service and handlers over store and api.
func NewApp(cfg *coreconfig.Config, store state.Store, api WalletAPI) *App {
	svc := NewService(store, api)
	return &App{cfg: cfg, store: store, handlers: NewHandlers(svc, store)}
}

// TelegramRunOptions builds the registry, routes and middleware chain.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	if a.cfg == nil {
		return tg.RunOptions{}, fmt.Errorf("bot: nil config")
	}
	reg := tg.NewRegistry()
	if err := a.handlers.Register(reg); err != nil {
		return tg.RunOptions{}, err
	}

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: a.cfg.Telegram.AdminID,
		OnAdminReject: func(c tele.Context) error {
			return tghelpers.SendText(c, "Command is not available.")
		},
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(a.handlers.FSM(), reg, router.TextOptions{
		UnknownDocument: func(c tele.Context) error {
			return tghelpers.SendText(c, "Files are not supported, send text instead.")
		},
	})...)

	return tg.RunOptions{
		Config:   a.cfg,
		Registry: reg,
		Middlewares: tg.DefaultMiddlewares(a.cfg, func(c tele.Context) error {
			if c.Callback() != nil {
				return c.Respond(&tele.CallbackResponse{Text: "Too fast, try again"})
			}
			return nil
		}),
		Routes: routes,
		OnStop: func(ctx context.Context, _ tg.Runtime) error {
			err := a.store.Close()
			logger.Info(ctx, "storage", "close", slog.String("status", logger.Status(err)))
			return err
		},
	}, nil
}
