package middleware

import (
	"sync/atomic"

	tele "gopkg.in/telebot.v4"
)

const repliesKey = "replies"

// Replies counts what a handler sent back. Sends may complete on the
// dispatcher goroutine, so the counters are atomic.
type Replies struct {
	messages atomic.Int32
	keyboard atomic.Bool
}

// Messages returns the number of messages sent or edited.
func (r *Replies) Messages() int {
	if r == nil {
		return 0
	}
	return int(r.messages.Load())
}

// Keyboard reports whether any reply carried reply markup.
func (r *Replies) Keyboard() bool {
	return r != nil && r.keyboard.Load()
}

type countingContext struct {
	tele.Context
	replies *Replies
}

func (c countingContext) count(err error, opts []any) error {
	if err != nil {
		return err
	}
	c.replies.messages.Add(1)
	if hasMarkup(opts) {
		c.replies.keyboard.Store(true)
	}
	return nil
}

func hasMarkup(opts []any) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

func (c countingContext) Send(what any, opts ...any) error {
	return c.count(c.Context.Send(what, opts...), opts)
}

func (c countingContext) Reply(what any, opts ...any) error {
	return c.count(c.Context.Reply(what, opts...), opts)
}

func (c countingContext) Edit(what any, opts ...any) error {
	return c.count(c.Context.Edit(what, opts...), opts)
}

func (c countingContext) EditOrSend(what any, opts ...any) error {
	return c.count(c.Context.EditOrSend(what, opts...), opts)
}

func (c countingContext) EditOrReply(what any, opts ...any) error {
	return c.count(c.Context.EditOrReply(what, opts...), opts)
}

// CountReplies wraps the context so handler summaries can report replies.
func CountReplies(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		r := &Replies{}
		c.Set(repliesKey, r)
		return next(countingContext{Context: c, replies: r})
	}
}

// RepliesOf returns the counters installed by CountReplies, or nil.
func RepliesOf(c tele.Context) *Replies {
	r, _ := c.Get(repliesKey).(*Replies)
	return r
}
