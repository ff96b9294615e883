// engramd is the owner process: it holds the embedded storage engine
// exclusively and serves every other process on the machine over loopback
// HTTP, plus MCP over SSE for assistants that connect directly.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/engram-ai/engram/internal/api"
	"github.com/engram-ai/engram/internal/config"
	"github.com/engram-ai/engram/internal/embedding"
	"github.com/engram-ai/engram/internal/service"
	"github.com/engram-ai/engram/internal/store"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))
	log := slog.Default()

	// Refuse to double-own the engine. If a healthy owner already answers
	// on the port, this process must not open the database.
	if ownerAlreadyRunning(cfg) {
		return fmt.Errorf("another instance is already serving on %s", cfg.Addr())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("closing storage", "error", err)
		}
	}()

	embedder, err := embedding.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("building embedder: %w", err)
	}

	svc := service.New(service.Handle{Embedder: embedder, Store: st, Config: cfg})

	pidPath := filepath.Join(cfg.Storage.DataDir, "engramd.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	mcpSrv := api.NewMCPServer(svc, version)
	sse := api.NewSSEServer(mcpSrv, time.Duration(cfg.Server.SSEKeepAliveSecs)*time.Second)

	r := chi.NewRouter()
	r.Mount("/", api.NewHandler(api.Deps{
		Service:   svc,
		Log:       log,
		Version:   version,
		DataDir:   cfg.Storage.DataDir,
		StartedAt: time.Now(),
	}))
	r.Handle("/sse", sse.SSEHandler())
	r.Handle("/message", sse.MessageHandler())

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("engramd listening", "addr", cfg.Addr(), "version", version,
			"backend", cfg.Embedding.Backend, "data_dir", cfg.Storage.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func ownerAlreadyRunning(cfg config.Config) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(cfg.BaseURL() + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	buf := make([]byte, 512)
	n, _ := resp.Body.Read(buf)
	return resp.StatusCode == http.StatusOK && strings.Contains(string(buf[:n]), api.ServiceName)
}
