// otx-sync runs one incremental synchronization of subscribed OTX
// pulses into the configured document store, resuming from the
// persisted watermark unless told otherwise.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"

	"otxsync/internal/config"
	"otxsync/internal/ops"
	"otxsync/internal/otx"
	"otxsync/internal/store"
	syncrun "otxsync/internal/sync"
	"otxsync/internal/transform"
	"otxsync/internal/watermark"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ops.Start(cfg.MetricsAddr)

	client := otx.NewClient(otx.ClientOptions{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		PageLimit:      cfg.PageLimit,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.BackoffBase,
		BackoffCeiling: cfg.BackoffCeil,
	})

	acct, err := client.ValidateKey(ctx)
	if err != nil {
		return fail(err)
	}
	slog.Info("authenticated",
		"username", acct.Username,
		"pulses", acct.PulseCount,
		"indicators", acct.IndicatorCount)

	var st store.Store
	var marks watermark.Store
	if cfg.DryRun {
		st = store.NewMemory()
		marks = watermark.Discard{}
	} else {
		pg, err := store.NewPostgres(ctx, store.PostgresOptions{
			DSN:    cfg.PGDSN,
			Schema: cfg.PGSchema,
			Table:  cfg.PGTable,
		})
		if err != nil {
			return fail(err)
		}
		st = pg
		marks = watermark.NewFileStore(cfg.WatermarkPath)
	}
	defer st.Close()

	start := syncrun.FromWatermark()
	switch {
	case cfg.HasSince:
		start = syncrun.FromExplicitSince(cfg.Since)
	case cfg.NoWatermark:
		start = syncrun.FromExplicitSince(cfg.InitialSince)
	}

	runner := syncrun.NewRunner(client, st, marks, syncrun.Options{
		Start:        start,
		InitialSince: cfg.InitialSince,
		MaxPages:     cfg.MaxPages,
		PageDelay:    cfg.PageDelay,
	})

	sum, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted")
			return 130
		}
		return fail(err)
	}

	slog.Info("run complete",
		"run_id", sum.RunID,
		"pages", sum.Pages,
		"fetched", sum.Fetched,
		"upserted", sum.Upserted,
		"malformed", sum.Malformed,
		"duplicate", sum.Duplicate,
		"load_failures", len(sum.FailedIDs),
		"dry_run", cfg.DryRun,
		"duration", sum.Duration.Round(time.Millisecond))
	return 0
}

// fail reports a fatal error with its classified kind for operators.
func fail(err error) int {
	slog.Error("run failed", "kind", errorKind(err), "err", err)
	return 1
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, otx.ErrAuth):
		return "auth"
	case errors.Is(err, otx.ErrRetryExhausted):
		return "retry_exhausted"
	case errors.Is(err, otx.ErrLoopDetected):
		return "loop_detected"
	case errors.Is(err, otx.ErrClient):
		return "client"
	case errors.Is(err, store.ErrSystemicWrite):
		return "systemic_write"
	case errors.Is(err, transform.ErrMalformedRecord):
		return "malformed_record"
	default:
		return "internal"
	}
}
