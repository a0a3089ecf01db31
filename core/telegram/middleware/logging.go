package middleware

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/walletbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// seenUpdates is a bounded set of the most recent update IDs.
type seenUpdates struct {
	mu   sync.Mutex
	ring []int
	next int
	set  map[int]struct{}
}

func newSeenUpdates(size int) *seenUpdates {
	return &seenUpdates{ring: make([]int, size), set: make(map[int]struct{}, size)}
}

// first reports whether id was not seen among the last len(ring) updates.
func (s *seenUpdates) first(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[id]; ok {
		return false
	}
	delete(s.set, s.ring[s.next])
	s.ring[s.next] = id
	s.set[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}

var received = newSeenUpdates(1024)

// LoggerMiddleware builds the request context for downstream helpers and logs
// a sampled update.received line once per update. Message text is reduced to
// its length because it carries credentials.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		if received.first(c.Update().ID) && logger.ShouldSampleDebug() {
			logger.LogEvent(ctx, logger.Component("tg"), slog.LevelDebug, "update.received", updateAttrs(c)...)
		}
		return next(c)
	}
}

func updateAttrs(c tele.Context) []slog.Attr {
	upd := c.Update()
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.String("kind", UpdateKind(upd)),
	}
	if chat := c.Chat(); chat != nil {
		attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
	}
	if user := c.Sender(); user != nil {
		if user.Username != "" {
			attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
		}
		if user.LanguageCode != "" {
			attrs = append(attrs, slog.String("lang", user.LanguageCode))
		}
	}
	switch {
	case upd.Callback != nil:
		key, payload := callbacks.ParseCallbackData(upd.Callback)
		attrs = append(attrs,
			slog.String("cb_key", logger.SanitizeLimit(key, 128)),
			slog.String("payload", logger.SanitizeLimit(payload, 64)),
		)
	case upd.Message != nil:
		text := c.Text()
		attrs = append(attrs,
			slog.Int("text_len", len([]rune(text))),
			slog.Bool("command", strings.HasPrefix(text, "/")),
		)
	}
	return attrs
}
