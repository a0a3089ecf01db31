package router

import (
	"context"
	"log/slog"

	"github.com/m3rciful/walletbot/core/logger"
	tg "github.com/m3rciful/walletbot/core/telegram"
	"github.com/m3rciful/walletbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures admin gating of commands.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes binds every registered command; admin-only ones are gated.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}
	admin := middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	})

	names := reg.CommandNames()
	routes := make([]tg.Route, 0, len(names))
	for _, name := range names {
		cmd, _ := reg.Command(name)
		h := cmd.Handler
		if cmd.AdminOnly {
			h = admin(h)
		}
		routeName := handlerName(name)
		routes = append(routes, tg.Route{
			Endpoint: name,
			Handler: func(c tele.Context) error {
				return handle(c, routeName, h)
			},
		})
	}

	logger.Info(context.Background(), "tg.wire", "complete",
		slog.Int("commands", len(names)),
		slog.Int("callbacks", len(reg.CallbackKeys())),
	)
	return routes
}
