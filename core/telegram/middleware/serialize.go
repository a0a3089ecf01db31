package middleware

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/m3rciful/walletbot/core/logger"
	tghelpers "github.com/m3rciful/walletbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// QueueOptions tunes UserQueue; zero values take defaults.
type QueueOptions struct {
	Workers int
	// QueueSize is split evenly between workers. A full shard blocks the
	// caller until its worker catches up.
	QueueSize int
	// OnError receives handler errors, which no longer reach the bot.
	OnError func(error, tele.Context)
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 512
	}
	if o.OnError == nil {
		o.OnError = logHandlerError
	}
	return o
}

type update struct {
	c    tele.Context
	next tele.HandlerFunc
}

// UserQueue hands updates to a fixed set of workers keyed by sender ID. All
// updates of one user go to the same worker and run in arrival order, while
// other users proceed on the remaining workers. The bot must run with
// Settings.Synchronous so updates reach the queue in the order they were received.
type UserQueue struct {
	opts   QueueOptions
	shards []chan update
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewUserQueue starts the workers.
func NewUserQueue(opts QueueOptions) *UserQueue {
	opts = opts.withDefaults()
	q := &UserQueue{opts: opts, shards: make([]chan update, opts.Workers)}
	size := max(opts.QueueSize/opts.Workers, 1)
	for i := range q.shards {
		q.shards[i] = make(chan update, size)
		q.wg.Add(1)
		go q.work(q.shards[i])
	}
	return q
}

// Middleware enqueues the rest of the chain. Updates without a sender, and
// every update after Close, run inline.
func (q *UserQueue) Middleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		user := c.Sender()
		if user == nil {
			return next(c)
		}
		q.mu.RLock()
		if q.closed {
			q.mu.RUnlock()
			return next(c)
		}
		q.shards[q.shard(user.ID)] <- update{c: c, next: next}
		q.mu.RUnlock()
		return nil
	}
}

func (q *UserQueue) shard(id int64) int {
	return int(uint64(max(id, -id)) % uint64(len(q.shards)))
}

// Close stops accepting updates and waits for queued ones. It is idempotent.
func (q *UserQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, s := range q.shards {
			close(s)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *UserQueue) work(updates <-chan update) {
	defer q.wg.Done()
	for u := range updates {
		q.run(u)
	}
}

func (q *UserQueue) run(u update) {
	defer func() {
		if r := recover(); r != nil {
			q.opts.OnError(fmt.Errorf("telegram: handler panic: %v", r), u.c)
		}
	}()
	if err := u.next(u.c); err != nil {
		q.opts.OnError(err, u.c)
	}
}

func logHandlerError(err error, c tele.Context) {
	logger.Error(tghelpers.BuildContext(c), "tg", "handler.error",
		slog.String("status", "fail"),
		slog.String("err", logger.Sanitize(err.Error())),
	)
}
