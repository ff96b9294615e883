package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/engram-ai/engram/internal/config"
	"github.com/engram-ai/engram/internal/supervise"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the owner daemon in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return startDaemon(cmd)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running owner daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopDaemon()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and storage status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd)
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "engramd.pid")
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func startDaemon(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	sup := supervise.New(cfg, log)
	mon := supervise.NewMonitor(sup, cfg.Storage.DataDir, log)

	if sup.IsRunning(cmd.Context()) {
		printWarning("engramd is already running on %s", cfg.Addr())
		return mon.MarkServiceRunning()
	}

	printStep("Starting engramd...")
	if err := sup.Start(cmd.Context()); err != nil {
		return err
	}
	if err := mon.MarkServiceRunning(); err != nil {
		printWarning("could not record desired state: %v", err)
	}

	printSuccess("engramd running on %s", cfg.Addr())
	return nil
}

func stopDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	sup := supervise.New(cfg, log)
	mon := supervise.NewMonitor(sup, cfg.Storage.DataDir, log)

	// Record the intent first so the availability monitor in any running
	// bridge does not immediately respawn the daemon.
	if err := mon.MarkServiceStopped(); err != nil {
		printWarning("could not record desired state: %v", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("engramd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop engramd (PID %d): %v", pid, err)
		os.Remove(pidPath)
		return err
	}

	printSuccess("Sent stop signal to engramd (PID %d)", pid)
	return nil
}

func showStatus(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(cfg.BaseURL() + "/health")
	running := false
	if err != nil {
		printStatus("Daemon", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Daemon", "running on %s", cfg.Addr())
		} else {
			printStatus("Daemon", "error (HTTP %d)", resp.StatusCode)
		}
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	sup := supervise.New(cfg, log)
	mon := supervise.NewMonitor(sup, cfg.Storage.DataDir, log)
	printStatus("Desired state", "%s", mon.DesiredState())

	printStatus("Backend", "%s", cfg.Embedding.Backend)
	printStatus("Model", "%s", cfg.Embedding.Model)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	if running {
		api, err := newAPIClient()
		if err == nil {
			statsResp, err := api.get(cmd.Context(), "/api/stats")
			if err == nil {
				var stats struct {
					TotalContexts int     `json:"total_contexts"`
					Version       string  `json:"version"`
					UptimeSeconds float64 `json:"uptime_seconds"`
				}
				if decodeJSON(statsResp, &stats) == nil {
					printStatus("Contexts", "%d", stats.TotalContexts)
					printStatus("Version", "%s", stats.Version)
					printStatus("Uptime", "%s", (time.Duration(stats.UptimeSeconds) * time.Second).String())
				}
			}
		}
	}
	return nil
}
