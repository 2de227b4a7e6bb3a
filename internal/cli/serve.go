package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/headline-goat/verdict/internal/config"
	"github.com/headline-goat/verdict/internal/server"
	"github.com/headline-goat/verdict/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and winner scheduler",
	Long: `Start the verdict HTTP server and the periodic winner scheduler.

The server provides:
  - Evaluation endpoint for remote schedulers
  - Analysis and conclusion lookups per test
  - Scheduler force-run and metrics
  - Prometheus metrics at /metrics

Editing the config file while the server runs applies the new scheduler
settings without a restart.

Example:
  verdict serve --port 8080 --config verdict.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().String("addr", "", "address to bind")
	serveCmd.Flags().String("token", "", "bearer token for API routes")
	bindFlags(serveCmd, map[string]string{
		"port":  "port",
		"addr":  "addr",
		"token": "token",
	})
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withStore(func(s *store.SQLiteStore) error {
		return serve(ctx, s)
	})
}

func serve(ctx context.Context, s *store.SQLiteStore) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sched, err := newScheduler(s, reg)
	if err != nil {
		return err
	}
	eval, err := newEvaluator(s)
	if err != nil {
		return err
	}

	if cfgFile != "" {
		config.Watch(vp, slog.Default(), func(next *config.Config) {
			sched.UpdateConfig(next.SchedulerConfig())
		})
	}

	sched.Start(ctx)
	defer sched.Stop()

	srv := server.New(s, eval,
		server.WithToken(cfg.Token),
		server.WithScheduler(sched),
		server.WithGatherer(reg),
		server.WithLogger(slog.Default()),
	)

	if cfg.Token == "" {
		slog.Warn("API routes are unauthenticated; set --token or VERDICT_TOKEN")
	}
	slog.Info("verdict starting", "addr", cfg.ListenAddr(), "db", cfg.DB, "scheduler_enabled", cfg.Scheduler.Enabled)

	return srv.ListenAndServe(ctx, cfg.ListenAddr())
}
