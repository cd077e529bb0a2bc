package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/meridian-pos/meridian/internal/app"
	"github.com/meridian-pos/meridian/internal/platform/db"
)

// Applies every .sql file under the migrations directory in lexical order.
// Statements are idempotent (CREATE IF NOT EXISTS), so reruns are safe.
func main() {
	dir := flag.String("dir", "migrations", "directory containing .sql migration files")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		logger.Error("list migrations", slog.Any("error", err))
		os.Exit(1)
	}
	if len(files) == 0 {
		logger.Error("no migration files found", slog.String("dir", *dir))
		os.Exit(1)
	}
	sort.Strings(files)

	for _, file := range files {
		sql, err := os.ReadFile(file)
		if err != nil {
			logger.Error("read migration", slog.String("file", file), slog.Any("error", err))
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			logger.Error("apply migration", slog.String("file", file), slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("applied migration", slog.String("file", file))
	}
	logger.Info("migrations complete", slog.Int("count", len(files)))
}
