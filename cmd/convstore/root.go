package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kittclouds/convstore/internal/config"
	"github.com/kittclouds/convstore/internal/logger"
	"github.com/kittclouds/convstore/internal/metrics"
	"github.com/kittclouds/convstore/internal/store"
	"github.com/kittclouds/convstore/pkg/agent"
	"github.com/kittclouds/convstore/pkg/chat"
	"github.com/kittclouds/convstore/pkg/notify"
	"github.com/kittclouds/convstore/pkg/querycache"
)

// app holds what every subcommand needs. It is filled in by the root
// command's pre-run hook.
type app struct {
	dbPath      string
	asJSON      bool
	dumpMetrics bool

	cfg   *config.Config
	log   zerolog.Logger
	store *store.SQLiteStore
	svc   *chat.Service
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:          "convstore",
		Short:        "Manage locally stored conversations",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			err := a.close()
			if a.dumpMetrics {
				err = errors.Join(err, metrics.Write(cmd.ErrOrStderr(), nil))
			}
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "Database path (overrides CONVSTORE_DB_PATH)")
	cmd.PersistentFlags().BoolVar(&a.asJSON, "json", false, "Print results as JSON")
	cmd.PersistentFlags().BoolVar(&a.dumpMetrics, "metrics", false, "Write this run's metrics to stderr when done")

	cmd.AddCommand(
		newChatsCmd(a),
		newMessagesCmd(a),
		newAttachCmd(a),
		newReplyCmd(a),
		newRegenerateCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newMetricsCmd(),
	)
	return cmd
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	a.cfg = cfg
	a.log = logger.New(cfg)

	a.store = store.Open(ctx, store.Options{DSN: cfg.DBPath, Atomic: cfg.Atomic, Logger: &a.log})
	if err := a.store.Wait(ctx); err != nil {
		return err
	}

	var responder agent.Responder
	if cfg.AgentEnabled() {
		responder = agent.NewOpenAIResponder(cfg.Agent)
	}
	a.svc = chat.NewService(a.store, chat.Options{
		Cache:    querycache.New(cfg.CacheTTL, cfg.CacheCleanup),
		Notifier: notify.NewLogNotifier(a.log),
		Retry: notify.RetryConfig{
			InitialInterval: cfg.RetryInitialInterval,
			MaxElapsedTime:  cfg.RetryMaxElapsed,
		},
		Responder: responder,
		Logger:    &a.log,
	})
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// print writes v as indented JSON when --json is set, otherwise calls text.
func (a *app) print(w io.Writer, v any, text func(w io.Writer)) error {
	if !a.asJSON {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}
