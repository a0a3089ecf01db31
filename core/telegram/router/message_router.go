package router

import (
	"time"

	tg "github.com/m3rciful/walletbot/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// FSM routes text to the handler of the sender's conversation state.
type FSM interface {
	InProgress(c tele.Context) bool
	ManagerHandler(c tele.Context) error
}

// TextOptions controls fallbacks for text and document updates.
type TextOptions struct {
	UnknownText     tele.HandlerFunc
	UnknownDocument tele.HandlerFunc
}

// TextRoutes routes text in order: an active conversation state, a command
// typed as text, the registry fallback, then UnknownText.
func TextRoutes(fsm FSM, reg *tg.Registry, opts TextOptions) []tg.Route {
	onText := func(c tele.Context) error {
		start := time.Now()
		if fsm != nil && fsm.InProgress(c) {
			return handle(c, "fsm", func(c tele.Context) error { return fsm.ManagerHandler(c) })
		}
		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil {
				return handle(c, handlerName(key), cmd.Handler)
			}
			if fb := reg.TextFallback(); fb != nil {
				return handle(c, "fallback", fb)
			}
		}
		if opts.UnknownText != nil {
			return handle(c, "unknown_text", opts.UnknownText)
		}
		skip(c, "unknown_text", start)
		return nil
	}

	onDocument := func(c tele.Context) error {
		if opts.UnknownDocument != nil {
			return handle(c, "unexpected_document", opts.UnknownDocument)
		}
		skip(c, "unexpected_document", time.Now())
		return nil
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: onText},
		{Endpoint: tele.OnDocument, Handler: onDocument},
	}
}
