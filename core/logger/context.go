package logger

import (
	"context"
	"log/slog"
)

// Meta is the correlation data of one update, carried in context and
// stamped onto every record logged with that context.
type Meta struct {
	RID      string
	UpdateID int
	UserID   int64
	ChatID   int64
	Handler  string
	Action   string
}

type ctxKey int

const (
	metaKey ctxKey = iota
	loggerKey
)

// MetaFrom returns the metadata stored in ctx, zero when absent.
func MetaFrom(ctx context.Context) Meta {
	if ctx == nil {
		return Meta{}
	}
	m, _ := ctx.Value(metaKey).(Meta)
	return m
}

func withMeta(ctx context.Context, fn func(*Meta)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	m := MetaFrom(ctx)
	fn(&m)
	return context.WithValue(ctx, metaKey, m)
}

// WithRID attaches a correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return withMeta(ctx, func(m *Meta) { m.RID = rid })
}

// WithUpdateMeta attaches the Telegram update, user and chat identifiers.
func WithUpdateMeta(ctx context.Context, updateID int, userID, chatID int64) context.Context {
	return withMeta(ctx, func(m *Meta) {
		m.UpdateID = updateID
		m.UserID = userID
		m.ChatID = chatID
	})
}

// WithHandler records the handler serving the update.
func WithHandler(ctx context.Context, handler string) context.Context {
	if handler == "" {
		return orBackground(ctx)
	}
	return withMeta(ctx, func(m *Meta) { m.Handler = handler })
}

// WithAction records the conversation action being processed.
func WithAction(ctx context.Context, action string) context.Context {
	if action == "" {
		return orBackground(ctx)
	}
	return withMeta(ctx, func(m *Meta) { m.Action = action })
}

// WithLogger stores log in ctx for FromContext.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	ctx = orBackground(ctx)
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger stored in ctx, or L.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
			return l
		}
	}
	return L
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// fill copies ctx metadata into fields without overriding explicit attrs.
func (m Meta) fill(f fields) {
	f.setDefault("rid", m.RID)
	f.setDefault("action", m.Action)
	f.setDefault("handler", m.Handler)
	if m.UserID != 0 {
		f.setDefault("user_id", m.UserID)
	}
	if m.UpdateID != 0 {
		f.setDefault("update_id", int64(m.UpdateID))
	}
	if m.ChatID != 0 {
		f.setDefault("chat_id", m.ChatID)
	}
}
