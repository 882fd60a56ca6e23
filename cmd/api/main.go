package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go-helpdesk-insights-ui/internal/config"
	"go-helpdesk-insights-ui/internal/etl"
	httpapi "go-helpdesk-insights-ui/internal/http"
	"go-helpdesk-insights-ui/internal/insights"
	"go-helpdesk-insights-ui/internal/logging"
)

var version = "dev"

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "helpdesk-insights",
		Short:        "Helpdesk insights dashboards and limbo alerts for Intercom.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newLimboCheckCommand())
	root.AddCommand(newSyncCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func loadRuntime() (config.Config, *zap.Logger, error) {
	cfg := config.FromEnv()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return cfg, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP dashboards and the limbo monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var missing *config.MissingError
	if err := cfg.Validate(); errors.As(err, &missing) {
		logger.Warn("configuration incomplete, affected routes will refuse requests", zap.Strings("missing", missing.Keys))
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize integrations", zap.Error(err))
		return err
	}
	srv := httpapi.NewServer(cfg, a.deps())

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", zap.String("version", version), zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		a.close()
		if !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLimboCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "limbo-check",
		Short: "Run one limbo check and alert if the cooldown allows it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := buildApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()
			if a.monitor == nil {
				return errNoToken
			}

			snap := a.monitor.RunOnce(cmd.Context())
			return printJSON(cmd, snap)
		},
	}
}

func newSyncCommand() *cobra.Command {
	var (
		from, to, company string
		ignoreTeams       bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy one company's conversations into the ticket archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if strings.TrimSpace(company) == "" {
				return errors.New("--company is required")
			}
			loc := cfg.DisplayLocation()
			fromDay, err := time.ParseInLocation("2006-01-02", from, loc)
			if err != nil {
				return fmt.Errorf("invalid --from, expected YYYY-MM-DD")
			}
			toDay, err := time.ParseInLocation("2006-01-02", to, loc)
			if err != nil {
				return fmt.Errorf("invalid --to, expected YYYY-MM-DD")
			}
			if toDay.Before(fromDay) {
				return errors.New("--to must be the same or after --from")
			}

			a, err := buildApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()
			switch {
			case a.api == nil:
				return errNoToken
			case a.syncer == nil:
				return errors.New("archive disabled (set APP_ARCHIVE_ENABLED=true)")
			}

			stats, runErr := a.syncer.Run(cmd.Context(), etl.Params{
				Range:       insights.DayRange(fromDay, toDay, loc),
				Company:     company,
				IgnoreTeams: ignoreTeams,
			})
			if err := printJSON(cmd, stats); err != nil {
				return err
			}
			return runErr
		},
	}
	today := time.Now().Format("2006-01-02")
	cmd.Flags().StringVar(&from, "from", today, "first day (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&to, "to", today, "last day (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&company, "company", "", "company id or exact company name")
	cmd.Flags().BoolVar(&ignoreTeams, "ignore-teams", false, "keep conversations from every team")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
