package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/leasevault/internal/api"
	"github.com/wesm/leasevault/internal/documents"
	"github.com/wesm/leasevault/internal/query"
	"github.com/wesm/leasevault/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with scheduled document refreshes",
	Long: `Run leasevault as a long-running daemon.

The daemon runs in the foreground and provides:
  - HTTP API server on the configured port (default: 8080)
  - Scheduled refreshes of the document cache when [refresh] is enabled

Configure schedules in config.toml:
  [refresh]
  enabled = true
  schedule = "0 * * * *"      # every tenant, hourly

  [[refresh.tenant]]
  email = "ann@example.com"
  schedule = "*/15 * * * *"   # one tenant, every 15 minutes

Cron format: minute hour day-of-month month day-of-week

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Validate security posture before doing any work
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	s, cache, cleanup, err := openDocumentCache(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	var sched *scheduler.Scheduler
	var apiSched api.RefreshScheduler
	if cfg.Refresh.Enabled {
		sched = scheduler.New(refreshFunc(cache)).WithLogger(logger)
		count, errs := sched.AddJobsFromConfig(cfg)
		for _, err := range errs {
			logger.Error("failed to schedule refresh", "error", err)
		}
		if count == 0 {
			return fmt.Errorf("refresh is enabled but no refresh could be scheduled")
		}
		sched.Start()
		apiSched = sched
	}

	apiServer := api.NewServer(cfg, s, cache, query.NewSQLEngine(s.DB()), apiSched, logger)

	// The server runs until it fails or the command context is cancelled;
	// either way the other goroutine shuts it down.
	g, gctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}
		return nil
	})

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("leasevault daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Database: %s\n", redactDSN(cfg.DatabaseDSN()))
	if cfg.Mail.Provider == "" {
		fmt.Printf("  Mail source: none (cache only)\n")
	} else {
		fmt.Printf("  Mail source: %s\n", cfg.Mail.Provider)
	}
	if sched != nil {
		for _, status := range sched.Status() {
			target := status.Target
			if target == scheduler.AllTenants {
				target = "all tenants"
			}
			fmt.Printf("  %s: next refresh at %s\n", target, status.NextRun.Local().Format("2006-01-02 15:04:05"))
		}
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	serveErr := g.Wait()
	if serveErr != nil {
		logger.Error("API server error", "error", serveErr)
	}

	if sched != nil {
		fmt.Println("Waiting for running refreshes to complete...")
		select {
		case <-sched.Stop().Done():
		case <-time.After(30 * time.Second):
			fmt.Println("Shutdown timed out after 30 seconds.")
		}
	}
	fmt.Println("Shutdown complete.")
	return serveErr
}

// refreshFunc adapts the document cache to scheduled refresh targets.
func refreshFunc(cache *documents.Cache) scheduler.RefreshFunc {
	return func(ctx context.Context, target string) error {
		if target != scheduler.AllTenants {
			_, err := cache.Refresh(ctx, target)
			return err
		}
		results, err := cache.RefreshAll(ctx)
		if err != nil {
			return err
		}
		var errs []error
		for _, res := range results {
			if res.Err != nil {
				errs = append(errs, res.Err)
			}
		}
		return errors.Join(errs...)
	}
}
