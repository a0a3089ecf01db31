package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/m3rciful/walletbot/core/buildinfo"
	coreconfig "github.com/m3rciful/walletbot/core/config"
)

var (
	initOnce sync.Once
	closeMu  sync.Mutex
	closed   bool

	writer  *asyncWriter
	closers []io.Closer

	levelVar slog.LevelVar
	sampler  = newRatioSampler(1, 50)
	trace    bool
	stacks   = true

	// L is the root logger. It stays nil until InitLogger succeeds, and every
	// helper in this package is a no-op while it is nil.
	L *slog.Logger
)

// options is the logging part of the config resolved to concrete values.
type options struct {
	format    logFormat
	keyOrder  []string
	level     slog.Level
	sampleNum int
	sampleDen int
	stacks    bool
	profile   string
}

func optionsFrom(cfg *coreconfig.Config) options {
	opts := options{
		format:    formatJSON,
		keyOrder:  slices.Clone(defaultKeyOrder),
		level:     slog.LevelInfo,
		sampleNum: 1,
		sampleDen: 50,
		stacks:    true,
		profile:   "prod",
	}
	if cfg == nil {
		return opts
	}
	lc := cfg.Logging
	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		opts.profile = p
	}

	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		opts.format = formatKV
	case "json":
	default:
		if opts.profile == "debug" || opts.profile == "dev" {
			opts.format = formatKV
		}
	}

	if order := splitList(lc.KeysOrder); len(order) > 0 && lc.KeysOrder != "default" {
		opts.keyOrder = order
	}

	switch strings.ToLower(strings.TrimSpace(lc.Level)) {
	case "debug":
		opts.level = slog.LevelDebug
	case "warn", "warning":
		opts.level = slog.LevelWarn
	case "error":
		opts.level = slog.LevelError
	}

	if spec := strings.TrimSpace(lc.DebugSample); spec != "" {
		num, den := parseRatioSpec(spec)
		switch {
		case spec == "0" || spec == "off":
			opts.sampleNum, opts.sampleDen = 0, 0
		case num > 0 && den > 0:
			opts.sampleNum, opts.sampleDen = num, den
		}
	}

	switch strings.ToLower(strings.TrimSpace(lc.Stacks)) {
	case "off", "false", "0", "no":
		opts.stacks = false
	}
	return opts
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// InitLogger configures the global structured logger. Only the first call has effect.
func InitLogger(cfg *coreconfig.Config) error {
	var initErr error
	initOnce.Do(func() {
		opts := optionsFrom(cfg)
		levelVar.Set(opts.level)
		sampler.Set(opts.sampleNum, opts.sampleDen)
		trace = isTruthy(os.Getenv("TRACE")) || isTruthy(os.Getenv("LOG_TRACE"))
		stacks = opts.stacks

		outputs, files, err := openOutputs(cfg)
		if err != nil {
			initErr = err
			return
		}
		closers = files
		writer = newAsyncWriter(outputs, 64*1024)

		L = slog.New(newStructuredHandler(handlerConfig{
			level:    &levelVar,
			writer:   writer,
			format:   opts.format,
			keyOrder: opts.keyOrder,
		}))
		slog.SetDefault(L)
		logStartup(cfg, opts)
	})
	return initErr
}

// openOutputs returns stdout plus the optional bot log and warn-and-above error log.
func openOutputs(cfg *coreconfig.Config) ([]output, []io.Closer, error) {
	outputs := []output{{w: os.Stdout, min: slog.LevelDebug}}
	if cfg == nil {
		return outputs, nil, nil
	}
	dir := strings.TrimSpace(cfg.Logging.Dir)
	if dir == "" {
		return outputs, nil, nil
	}

	var files []io.Closer
	open := func(name string, min slog.Level) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("logger: create log dir %s: %w", dir, err)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("logger: open %s: %w", path, err)
		}
		outputs = append(outputs, output{w: f, min: min})
		files = append(files, f)
		return nil
	}
	if err := open(cfg.Logging.BotFile, slog.LevelDebug); err != nil {
		closeAll(files)
		return nil, nil, err
	}
	if err := open(cfg.Logging.ErrorsFile, slog.LevelWarn); err != nil {
		closeAll(files)
		return nil, nil, err
	}
	return outputs, files, nil
}

func closeAll(cs []io.Closer) error {
	var errs []error
	for _, c := range cs {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func logStartup(cfg *coreconfig.Config, opts options) {
	attrs := []slog.Attr{
		slog.String("go_version", runtime.Version()),
		slog.String("build_version", buildinfo.Version),
		slog.String("build_commit", buildinfo.Commit),
		slog.String("build_time", buildinfo.Date),
		slog.String("cfg_profile", opts.profile),
		slog.String("log_format", string(opts.format)),
	}
	if cfg != nil {
		attrs = append(attrs,
			slog.String("storage", cfg.Storage.Driver),
			slog.String("mode", cfg.Telegram.RunMode),
		)
	}
	Info(context.Background(), "app", "startup", attrs...)
}

// Shutdown flushes buffered output and closes log files. Later calls are no-ops.
func Shutdown() error {
	closeMu.Lock()
	defer closeMu.Unlock()
	if closed {
		return nil
	}
	closed = true

	var errs []error
	if writer != nil {
		errs = append(errs, writer.Close())
	}
	errs = append(errs, closeAll(closers))
	return errors.Join(errs...)
}

// Component returns L scoped to the component attribute, nil before InitLogger.
func Component(name string) *slog.Logger {
	if L == nil {
		return nil
	}
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

// LogEvent logs attrs under event through logg, the context logger, or L.
func LogEvent(ctx context.Context, logg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = FromContext(ctx)
	}
	if logg == nil {
		return
	}
	ctx = orBackground(ctx)
	if !logg.Enabled(ctx, level) {
		return
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, level, "", attrs...)
}

func emit(ctx context.Context, component string, level slog.Level, event string, attrs []slog.Attr) {
	logg := Component(component)
	if logg == nil {
		if logg = FromContext(ctx); logg != nil && component != "" {
			logg = logg.With("component", component)
		}
	}
	LogEvent(ctx, logg, level, event, attrs...)
}

// Debug logs a debug event for component.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelDebug, event, attrs)
}

// Info logs an info event for component.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelInfo, event, attrs)
}

// Warn logs a warning event for component.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelWarn, event, attrs)
}

// Error logs an error event for component.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelError, event, attrs)
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// ShouldSampleDebug reports whether a high-volume debug event should be logged.
// TRACE=1 disables sampling.
func ShouldSampleDebug() bool {
	return trace || sampler.Allow()
}

// StacksEnabled reports whether panic logs carry a stack trace.
func StacksEnabled() bool {
	return stacks
}
