package state

import (
	"log/slog"
	"sync"

	"github.com/m3rciful/walletbot/core/logger"
	tghelpers "github.com/m3rciful/walletbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Router dispatches free-text updates to the handler registered for the
// sender's current state.
type Router struct {
	store    Store
	mu       sync.RWMutex
	handlers map[State]tele.HandlerFunc
}

// NewRouter creates a Router reading states from store.
func NewRouter(store Store) *Router {
	return &Router{store: store, handlers: make(map[State]tele.HandlerFunc)}
}

// Handle associates a state with its handler.
func (r *Router) Handle(st State, h tele.HandlerFunc) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[st] = h
}

func (r *Router) lookup(c tele.Context) (State, tele.HandlerFunc) {
	sender := c.Sender()
	if sender == nil {
		return StateIdle, nil
	}
	ctx := tghelpers.BuildContext(c)
	sess, err := r.store.Get(ctx, sender.ID)
	if err != nil {
		logger.Error(ctx, "tg", "fsm.state_lookup",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return StateIdle, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sess.State, r.handlers[sess.State]
}

// InProgress reports whether a handler is registered for the sender's state.
func (r *Router) InProgress(c tele.Context) bool {
	_, h := r.lookup(c)
	return h != nil
}

// ManagerHandler executes the handler registered for the sender's state, if any.
func (r *Router) ManagerHandler(c tele.Context) error {
	current, handler := r.lookup(c)
	logger.Debug(tghelpers.BuildContext(c), "tg", "fsm.manager",
		slog.String("status", "ok"),
		slog.String("state", string(current)),
	)
	if handler == nil {
		return nil
	}
	return handler(c)
}
