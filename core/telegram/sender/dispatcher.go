// Package sender delivers outbound Bot API calls off the update goroutine.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

var (
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	ErrQueueFull   = errors.New("telegram sender: queue full")

	botTokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Options tunes the dispatcher; zero values take defaults.
type Options struct {
	// QueueSize is split evenly between workers.
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds one job including its retries.
	MaxDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	o.MaxRetries = max(o.MaxRetries, 0)
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

func (j job) attrs(extra ...slog.Attr) []slog.Attr {
	attrs := []slog.Attr{slog.String("action", j.action)}
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.endpoint))
	}
	return append(attrs, extra...)
}

// Dispatcher runs send jobs on a fixed set of workers. All jobs of one chat
// go to the same worker, so a user sees replies in the order they were made.
type Dispatcher struct {
	opts   Options
	shards []chan job
	wg     sync.WaitGroup
	failed atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the workers.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{opts: opts, shards: make([]chan job, opts.Workers)}
	size := max(opts.QueueSize/opts.Workers, 1)
	for i := range d.shards {
		d.shards[i] = make(chan job, size)
		d.wg.Add(1)
		go d.work(d.shards[i])
	}
	return d
}

// Enqueue schedules run on the worker owning the chat in ctx. It never
// blocks: a full shard yields ErrQueueFull. run may be called more than once.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.shards[d.shard(ctx)] <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) shard(ctx context.Context) int {
	meta := logger.MetaFrom(ctx)
	key := meta.ChatID
	if key == 0 {
		key = meta.UserID
	}
	return int(uint64(max(key, -key)) % uint64(len(d.shards)))
}

// ErrorCount returns how many jobs failed for good.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.failed.Load()
}

// Close stops accepting jobs and drains the queues. It is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, q := range d.shards {
			close(q)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work(jobs <-chan job) {
	defer d.wg.Done()
	for j := range jobs {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	attempts, err := d.attempt(ctx, j)
	if err == nil {
		logger.Debug(ctx, "tg.sender", "send",
			j.attrs(slog.String("status", "ok"), slog.Int("attempts", attempts), slog.Duration("duration", logger.Took(start)))...)
		return
	}
	d.failed.Add(1)
	logger.Error(ctx, "tg.sender", "send", j.attrs(
		slog.String("status", "fail"),
		slog.Int("attempts", attempts),
		slog.String("err", redactToken(err)),
		slog.String("err_kind", errorKind(err)),
		slog.Duration("duration", logger.Took(start)),
	)...)
}

// attempt runs j until it succeeds, fails permanently, exhausts retries or
// runs out of time.
func (d *Dispatcher) attempt(ctx context.Context, j job) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	for n := 1; ; n++ {
		err := j.run()
		if err == nil || !retryable(err) || n > d.opts.MaxRetries {
			return n, err
		}
		delay := retryDelay(err, d.opts.RetryBackoff, n)
		logger.Debug(ctx, "tg.sender", "send.retry", j.attrs(slog.Int("attempt", n), slog.Duration("delay", delay))...)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return n, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

func retryable(err error) bool {
	var flood tele.FloodError
	return errors.As(err, &flood) || netutil.ShouldRetry(err)
}

// retryDelay waits what a flood error asks for, else backoff times attempt.
func retryDelay(err error, backoff time.Duration, attempt int) time.Duration {
	var flood tele.FloodError
	if errors.As(err, &flood) && flood.RetryAfter > 0 {
		return time.Duration(flood.RetryAfter) * time.Second
	}
	return backoff * time.Duration(attempt)
}

func errorKind(err error) string {
	var (
		flood  tele.FloodError
		apiErr *tele.Error
		dnsErr *net.DNSError
		netErr net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &flood):
		return "flood"
	case errors.As(err, &apiErr) && apiErr.Code >= 500:
		return "http_5xx"
	case errors.As(err, &apiErr) && apiErr.Code >= 400:
		return "http_4xx"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case netutil.ShouldRetry(err):
		return "network"
	}
	return "unknown"
}

// redactToken strips the bot token telebot embeds in request URLs.
func redactToken(err error) string {
	return botTokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}
