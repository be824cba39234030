// Command jobs runs a single lifecycle or archive pass and prints the result
// as JSON, for use from an external scheduler.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/vestfoldfylke/azf-nettsperre/internal/app"
	"github.com/vestfoldfylke/azf-nettsperre/internal/config"
	"github.com/vestfoldfylke/azf-nettsperre/internal/logging"
)

const programName = "nettsperre-jobs"

var archiveFlags = struct {
	limit int
}{}

func jobRun(ctx context.Context, name string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	// Logs go to stderr so stdout carries only the result.
	base, err := logging.Setup(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	if archiveFlags.limit > 0 {
		cfg.ArchiveLimit = archiveFlags.limit
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.AppEnv}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	a, err := app.New(ctx, cfg, base)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.RunJob(ctx, name)
	if err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("%s failed: %w", name, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func jobCommand(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return jobRun(cmd.Context(), name)
		},
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Run scheduled block jobs once",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	archiveCmd := jobCommand(app.JobArchive, "Move expired and deleted blocks to history")
	archiveCmd.Flags().IntVar(&archiveFlags.limit, "limit", 0, "maximum number of blocks to archive (default ARCHIVE_LIMIT)")

	rootCmd.AddCommand(
		jobCommand(app.JobActivate, "Add students of due pending blocks to their groups"),
		jobCommand(app.JobDeactivate, "Remove students of ended active blocks from their groups"),
		archiveCmd,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error(err.Error(), "component", programName)
		stop()
		os.Exit(1)
	}
}
