package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aawaheed/datashare/internal/bootstrap"
	"github.com/aawaheed/datashare/internal/config"
	"github.com/aawaheed/datashare/internal/observability/logging"
)

// resumescan walks every document of a project that still lacks the given
// processing tag and re-enqueues it for the downstream pipeline. One-shot:
// it exits once the full scan has been republished.
func main() {
	cfg := config.MustLoad()
	logging.Setup("resumescan", cfg.LogLevel)

	project := flag.String("project", cfg.DefaultProject, "project whose documents are scanned")
	tag := flag.String("tag", "CORENLP", "processing tag whose absence selects documents")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	total, err := app.ScanUC.Run(ctx, *project, *tag)
	if err != nil {
		slog.Error("resume scan failed", "project", *project, "tag", *tag, "error", err)
		os.Exit(1)
	}
	slog.Info("resume scan done", "project", *project, "tag", *tag, "documents", total)
}
