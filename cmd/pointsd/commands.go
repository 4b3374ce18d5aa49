package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/points-ledger/api"
	"github.com/warp/points-ledger/config"
	"github.com/warp/points-ledger/logger"
	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/store/sqlite"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	dbPath     string
	port       int
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "pointsd",
		Short:         "Points ledger with oldest-first spending",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "TOML config file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config)")
	root.PersistentFlags().IntVar(&opts.port, "port", 0, "HTTP server port (overrides config)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides config)")

	serve := newServeCmd(opts)
	root.RunE = serve.RunE
	root.AddCommand(serve, newAddCmd(opts), newSpendCmd(opts), newBalancesCmd(opts))
	return root
}

// resolveConfig applies flags over the config file.
func (o *rootOptions) resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database.Path = o.dbPath
	}
	if flags.Changed("port") {
		cfg.Server.Port = o.port
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	return cfg, cfg.Validate()
}

// app bundles what every command needs.
type app struct {
	cfg   config.Config
	log   *zap.Logger
	store *sqlite.Store
	svc   *points.Service
}

func (o *rootOptions) open(cmd *cobra.Command) (*app, error) {
	cfg, err := o.resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	svc, err := points.NewService(cmd.Context(), store, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{cfg: cfg, log: log, store: store, svc: svc}, nil
}

func (a *app) close() {
	a.store.Close()
	a.log.Sync()
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	metrics := api.NewMetrics()
	handler := api.NewHandler(a.svc, metrics, a.log)
	router := api.NewRouter(handler, a.cfg.Server.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  a.cfg.Server.IdleTimeout.Duration,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting",
			zap.Int("port", a.cfg.Server.Port),
			zap.String("db", a.cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.log.Info("server stopped")
	return nil
}

// =============================================================================
// ONE-SHOT COMMANDS
// =============================================================================

func newAddCmd(opts *rootOptions) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "add PAYER POINTS",
		Short: "Record a grant",
		Long:  "Record a grant. Put negative amounts after -- so they are not read as flags.",
		Example: `  pointsd add DANNON 300 --at 2020-10-31T10:00:00Z
  pointsd add DANNON --at 2020-10-31T15:00:00Z -- -200`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return points.ErrInvalidPoints
			}
			var ts time.Time
			if at != "" {
				if ts, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at (use RFC3339): %w", err)
				}
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			g, err := a.svc.AddGrant(cmd.Context(), points.GrantInput{Payer: args[0], Points: amount, Timestamp: ts})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\t%s\n", g.ID, g.Payer, g.Points, g.Timestamp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Grant timestamp, RFC3339 (default now)")
	return cmd
}

func newSpendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "spend POINTS",
		Short: "Spend points oldest-first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return points.ErrInvalidPoints
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			alloc, err := a.svc.Spend(cmd.Context(), amount)
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), alloc.Entries)
			if alloc.Shortfall > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d points could not be allocated\n", alloc.Shortfall)
			}
			return nil
		},
	}
}

func newBalancesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Print per-payer balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PAYER\tPOINTS")
			for _, b := range a.svc.Balances() {
				fmt.Fprintf(tw, "%s\t%d\n", b.Payer, b.Points)
			}
			return tw.Flush()
		},
	}
}

func printEntries(w io.Writer, entries []points.SpendReportEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAYER\tPOINTS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\n", e.Payer, e.Points)
	}
	tw.Flush()
}
