package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/recap/am"
	"github.com/teranos/recap/logger"
	"github.com/teranos/recap/server"
	"github.com/teranos/recap/version"
)

// retentionSweepInterval is how often finished jobs past retention are removed
const retentionSweepInterval = time.Hour

// ServeCmd starts the status API and the job manager
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the summary job API",
	Long: `Start the HTTP status API and the background job manager.

Jobs left pending or processing by a previous run are marked as error
("interrupted by restart") before any new job is accepted. The active config
file is watched; provider credentials, call budgets and allowed origins are
reloaded without a restart.

Examples:
  recap serve                 # Listen on the configured port (default 8178)
  recap serve --port 9000     # Override the port
  recap serve --db ./dev.db   # Use a different database`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides server.port)")
	ServeCmd.Flags().String("bind", "", "Address to bind (overrides server.bind_address)")
	ServeCmd.Flags().String("db", "", "Database path (overrides database.path)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	port := cfg.Server.Port
	if p, _ := cmd.Flags().GetInt("port"); p > 0 {
		port = p
	}
	bind := cfg.Server.BindAddress
	if b, _ := cmd.Flags().GetString("bind"); b != "" {
		bind = b
	}
	dbPath, _ := cmd.Flags().GetString("db")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Logger.Named("serve")

	p, err := newPipeline(ctx, cfg, dbPath, logger.Logger)
	if err != nil {
		return err
	}
	defer p.Close()

	srv := server.New(server.Options{
		Manager:        p.manager,
		Summaries:      p.store,
		Providers:      p.factory,
		Budget:         p.budget,
		AllowedOrigins: cfg.GetServerAllowedOrigins(),
		Logger:         logger.Logger,
	})

	if path := am.ActiveConfigPath(); path != "" {
		watcher, err := am.NewConfigWatcher(path)
		if err != nil {
			log.Warnw("Config hot reload disabled", "path", path, "error", err)
		} else {
			watcher.OnReload(srv.ApplyConfig)
			watcher.Start()
			defer watcher.Stop()
		}
	}

	go sweepRetention(ctx, p, cfg.Retention())

	addr := net.JoinHostPort(bind, strconv.Itoa(port))
	printServeBanner(addr, cfg)

	if err := srv.Serve(ctx, addr); err != nil {
		return err
	}
	log.Infow("Stopped")
	return nil
}

// sweepRetention removes finished jobs older than retention until ctx ends
func sweepRetention(ctx context.Context, p *pipeline, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.manager.Cleanup(ctx, retention)
			if err != nil {
				logger.Warnw("Retention sweep failed", logger.FieldError, err)
				continue
			}
			if n > 0 {
				logger.Infow("Retention sweep removed jobs", logger.FieldCount, n)
			}
		}
	}
}

func printServeBanner(addr string, cfg *am.Config) {
	pterm.DefaultHeader.WithFullWidth().Printf("recap %s", version.Get().Short())
	pterm.Info.Printf("Listening on http://%s\n", addr)
	pterm.Info.Printf("Workers: %d, chunk size: %d, overlap: %d\n",
		cfg.Summary.Workers, cfg.Summary.ChunkSize, cfg.Summary.Overlap)
	pterm.Info.Printf("Default provider: %s\n", cfg.Summary.DefaultProvider)
	pterm.Println()
	fmt.Println("Press Ctrl+C to stop")
}
