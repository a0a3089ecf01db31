package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	coreconfig "github.com/m3rciful/walletbot/core/config"
	"github.com/m3rciful/walletbot/core/logger"
)

const (
	readyTimeout  = 30 * time.Second
	readyInterval = 2 * time.Second
)

// RunMigrations waits for the database and applies every pending up migration.
func RunMigrations(ctx context.Context, cfg coreconfig.DatabaseConfig) error {
	waitCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	err := waitReady(waitCtx, cfg, readyInterval)
	cancel()
	if err != nil {
		logger.Error(ctx, "db.migrate", "wait", slog.String("status", "fail"), slog.String("err", err.Error()))
		return err
	}

	dir, err := resolveMigrationsPath(cfg)
	if err != nil {
		return err
	}
	files := listMigrationFiles(dir)
	logger.Debug(ctx, "db.migrate", "resolve", previewAttrs(files,
		slog.String("path", dir),
	)...)

	m, err := migrate.New("file://"+dir, URLDSN(cfg))
	if err != nil {
		logger.Error(ctx, "db.migrate", "init", slog.String("status", "fail"), slog.String("err", err.Error()))
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	from := currentVersion(m)
	start := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error(ctx, "db.migrate", "apply",
			slog.String("status", "fail"),
			slog.Uint64("from_ver", from),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("apply migrations: %w", err)
	}
	to := currentVersion(m)

	applied := selectApplied(files, from, to)
	if len(applied) > 0 {
		logger.Debug(ctx, "db.migrate", "applied", previewAttrs(applied)...)
	}
	logger.Info(ctx, "db.migrate", "summary",
		slog.String("status", "ok"),
		slog.Uint64("from_ver", from),
		slog.Uint64("to_ver", to),
		slog.Int("files", len(applied)),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// currentVersion returns 0 for a fresh database.
func currentVersion(m *migrate.Migrate) uint64 {
	v, _, err := m.Version()
	if err != nil {
		return 0
	}
	return uint64(v)
}

func previewAttrs(files []string, extra ...slog.Attr) []slog.Attr {
	preview, truncated := logger.SummarizeStrings(files, 6)
	attrs := append(extra, slog.Int("files_total", len(files)))
	if preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview))
	}
	if truncated {
		attrs = append(attrs, slog.Bool("files_truncated", true))
	}
	return attrs
}

func resolveMigrationsPath(cfg coreconfig.DatabaseConfig) (string, error) {
	if dir := strings.TrimSpace(cfg.MigrationsDir); dir != "" {
		return filepath.Abs(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return filepath.Join(cwd, "migrations"), nil
}

// listMigrationFiles returns the sorted *.up.sql names in dir.
func listMigrationFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names
}

func parseVersion(name string) uint64 {
	prefix, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(prefix, 10, 64)
	return v
}

// selectApplied returns files with a version in (from, to].
func selectApplied(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		if v := parseVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
