package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/engram-ai/engram/internal/api"
	"github.com/engram-ai/engram/internal/config"
	"github.com/engram-ai/engram/internal/embedding"
	"github.com/engram-ai/engram/internal/service"
	"github.com/engram-ai/engram/internal/store"
	"github.com/engram-ai/engram/internal/supervise"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Run the MCP stdio bridge for IDE integrations",
	Long: `Run the MCP stdio bridge for IDE integrations.

The bridge makes sure an owner daemon is available (spawning a detached
engramd if needed) and forwards memory operations to it over loopback.
Point your editor's MCP configuration at this command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStdio()
	},
}

func runStdio() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout carries the MCP protocol; everything else goes to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))
	log := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervise.New(cfg, log)
	mon := supervise.NewMonitor(sup, cfg.Storage.DataDir, log)

	var svc *service.Service
	if startErr := sup.Start(ctx); startErr == nil {
		log.Info("proxying to owner daemon", "addr", cfg.Addr())
		svc = service.New(service.Handle{
			Embedder: embedding.Noop{},
			Store:    store.NewRemote(cfg.Server.Host, cfg.Server.Port),
			Config:   cfg,
		})
		if err := mon.MarkServiceRunning(); err != nil {
			log.Warn("recording desired state failed", "error", err)
		}
		// The monitor keeps the owner alive (and restarts it after
		// suspend/resume) for as long as this bridge runs.
		go mon.Run(ctx)
	} else {
		log.Warn("no owner daemon available, taking ownership", "error", startErr)
		svc, err = ownService(ctx, cfg, log)
		if err != nil {
			return err
		}
	}

	mcpSrv := api.NewMCPServer(svc, version)
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// ownService opens the database in-process and serves the REST surface on
// the configured loopback port, so that bridges started later still find a
// healthy owner and proxy instead of opening the database a second time.
func ownService(ctx context.Context, cfg config.Config, log *slog.Logger) (*service.Service, error) {
	sql, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	embedder, err := embedding.FromConfig(cfg)
	if err != nil {
		sql.Close()
		return nil, err
	}

	svc := service.New(service.Handle{
		Embedder: embedder,
		Store:    sql,
		Config:   cfg,
	})

	handler := api.NewHandler(api.Deps{
		Service:   svc,
		Log:       log,
		Version:   version,
		DataDir:   cfg.Storage.DataDir,
		StartedAt: time.Now(),
	})
	srv := &http.Server{Addr: cfg.Addr(), Handler: handler}

	go func() {
		log.Info("owner REST listening", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("owner REST server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		sql.Close()
	}()

	return svc, nil
}
