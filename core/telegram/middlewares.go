package telegram

import (
	"time"

	coreconfig "github.com/m3rciful/walletbot/core/config"
	"github.com/m3rciful/walletbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// DefaultMiddlewares returns the global chain in order: the per-user queue,
// panic recovery, reply counting, request logging, then the optional rate
// limit. The queue comes first so the rest of the chain runs on its workers.
func DefaultMiddlewares(cfg *coreconfig.Config, onLimited tele.HandlerFunc) []Middleware {
	queue := middleware.NewUserQueue(middleware.QueueOptions{})
	mws := []Middleware{
		{Name: "serialize", Use: queue.Middleware, Close: queue.Close},
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "replies", Use: middleware.CountReplies},
		{Name: "logger", Use: middleware.LoggerMiddleware},
	}
	if cfg != nil && cfg.RateLimit.IntervalMS > 0 {
		exclude := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
		for _, kind := range cfg.RateLimit.ExcludeUpdates {
			exclude[kind] = struct{}{}
		}
		mws = append(mws, Middleware{
			Name: "rate_limit",
			Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
				Interval:  time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond,
				Exclude:   exclude,
				OnLimited: onLimited,
			}),
		})
	}
	return mws
}

// CloseMiddlewares releases middlewares that own goroutines, in chain order.
func CloseMiddlewares(mws []Middleware) {
	for _, mw := range mws {
		if mw.Close != nil {
			mw.Close()
		}
	}
}
