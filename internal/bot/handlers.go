package bot

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/walletbot/core/logger"
	tg "github.com/m3rciful/walletbot/core/telegram"
	"github.com/m3rciful/walletbot/core/telegram/callbacks"
	"github.com/m3rciful/walletbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/walletbot/core/telegram/helpers"
	"github.com/m3rciful/walletbot/core/telegram/keyboard"
	"github.com/m3rciful/walletbot/core/telegram/state"
	"github.com/m3rciful/walletbot/internal/flow"

	tele "gopkg.in/telebot.v4"
)

// Handlers adapts Service to telebot handlers.
type Handlers struct {
	svc    *Service
	store  state.Store
	router *state.Router
}

// NewHandlers builds the handlers and the FSM router for text input.
func NewHandlers(svc *Service, store state.Store) *Handlers {
	h := &Handlers{svc: svc, store: store, router: state.NewRouter(store)}
	h.router.Handle(flow.StateDataSubmission, h.onText)
	h.router.Handle(flow.StateWorkProcess, h.onText)
	return h
}

// FSM returns the router dispatching text by conversation state.
func (h *Handlers) FSM() *state.Router {
	return h.router
}

// Register adds commands and one callback per action to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	cmds := []struct {
		name string
		cmd  commands.Command
	}{
		{"/start", commands.Command{Handler: h.onStart, Description: "Open the start or main menu"}},
		{"/cancel", commands.Command{Handler: h.onCancel, Description: "Abandon the current step"}},
		{"/help", commands.Command{Handler: h.onHelp, Description: "Show available commands"}},
		{"/reset_session", commands.Command{
			Handler:     h.onResetSession,
			Description: "Drop a user's session",
			AdminOnly:   true,
			Hidden:      true,
		}},
	}
	for _, c := range cmds {
		if err := reg.RegisterCommand(c.name, c.cmd); err != nil {
			return fmt.Errorf("bot: register command: %w", err)
		}
	}

	for _, a := range flow.Actions() {
		if err := reg.RegisterCallback(a.String(), h.onCallback); err != nil {
			return fmt.Errorf("bot: register callback %s: %w", a, err)
		}
	}
	reg.SetCallbackNotFound(func(c tele.Context) error {
		return c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
	})
	reg.SetTextFallback(h.onText)
	return nil
}

func (h *Handlers) onStart(c tele.Context) error {
	if c.Sender() == nil {
		return nil
	}
	reply, err := h.svc.Start(tghelpers.BuildContext(c), c.Sender().ID)
	if err != nil {
		return err
	}
	return send(c, reply)
}

func (h *Handlers) onCancel(c tele.Context) error {
	if c.Sender() == nil {
		return nil
	}
	reply, err := h.svc.Cancel(tghelpers.BuildContext(c), c.Sender().ID)
	if err != nil {
		return err
	}
	return send(c, reply)
}

func (h *Handlers) onHelp(c tele.Context) error {
	return tghelpers.SendText(c, MsgHelp)
}

func (h *Handlers) onResetSession(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	arg := strings.TrimSpace(c.Message().Payload)
	userID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || userID <= 0 {
		return tghelpers.SendText(c, "Usage: /reset_session <user_id>")
	}
	if err := h.store.Reset(ctx, userID); err != nil {
		return fmt.Errorf("bot: reset session %d: %w", userID, err)
	}
	logger.Info(ctx, "flow", "session.reset_by_admin", slog.Int64("target_user_id", userID))
	return tghelpers.SendText(c, fmt.Sprintf("Session of %d dropped.", userID))
}

func (h *Handlers) onCallback(c tele.Context) error {
	if c.Sender() == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	action, err := flow.ParseAction(callbacks.CallbackPayload(c))
	if err != nil {
		logger.Warn(ctx, "tg", "callback.rejected",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
	}
	reply, err := h.svc.Select(ctx, c.Sender().ID, action)
	if err != nil {
		return err
	}
	return send(c, reply)
}

func (h *Handlers) onText(c tele.Context) error {
	if c.Sender() == nil {
		return nil
	}
	reply, err := h.svc.Text(tghelpers.BuildContext(c), c.Sender().ID, c.Text())
	if err != nil {
		return err
	}
	return send(c, reply)
}

// send delivers reply messages in order; the menu goes with the last one.
func send(c tele.Context, r Reply) error {
	for i, msg := range r.Messages {
		if i == len(r.Messages)-1 {
			if markup := menuMarkup(r.Menu); markup != nil {
				if err := tghelpers.SendText(c, msg, &tele.SendOptions{ReplyMarkup: markup}); err != nil {
					return err
				}
				continue
			}
		}
		if err := tghelpers.SendText(c, msg); err != nil {
			return err
		}
	}
	return nil
}

func menuMarkup(m Menu) *tele.ReplyMarkup {
	buttons := m.Buttons()
	if len(buttons) == 0 {
		return nil
	}
	btns := make([]keyboard.InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		btns = append(btns, keyboard.InlineBtn{Text: b.Text, Unique: b.Action.String(), Data: b.Action.Code()})
	}
	return keyboard.InlineButtonsNPerRow(btns, m.columns())
}
