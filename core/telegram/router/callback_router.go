package router

import (
	"log/slog"
	"sync/atomic"

	tg "github.com/m3rciful/walletbot/core/telegram"
	"github.com/m3rciful/walletbot/core/telegram/callbacks"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// answerOnce lets the first Respond through and drops the rest, so a handler
// may answer with text and the router still answers silently otherwise.
type answerOnce struct {
	tele.Context
	done *atomic.Bool
}

func (a answerOnce) Respond(resp ...*tele.CallbackResponse) error {
	if a.done.Swap(true) {
		return nil
	}
	return a.Context.Respond(resp...)
}

func (a answerOnce) RespondText(text string) error {
	return a.Respond(&tele.CallbackResponse{Text: text})
}

func (a answerOnce) RespondAlert(text string) error {
	return a.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
}

// CallbackRoute dispatches callbacks by their unique key through the registry.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		key, _ := callbacks.ParseCallbackData(cb)
		extras := []slog.Attr{slog.String("cb_key", key)}

		h, ok := reg.GetCallback(key)
		if !ok {
			h = reg.CallbackNotFound()
			if h == nil {
				h = opts.NotFound
			}
			extras = append(extras, slog.String("reason", "not_found"))
		}

		ac := answerOnce{Context: c, done: new(atomic.Bool)}
		err := handle(ac, "callback."+handlerName(key), func(c tele.Context) error {
			if h == nil {
				return nil
			}
			return h(c)
		}, extras...)
		_ = ac.Respond()
		return err
	}
	return tg.Route{Endpoint: tele.OnCallback, Handler: handler}
}
