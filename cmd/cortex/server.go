package main

import (
	"context"
	"encoding/json"
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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/cortex/internal/api"
	"github.com/kalambet/cortex/internal/classify"
	"github.com/kalambet/cortex/internal/clustering"
	"github.com/kalambet/cortex/internal/config"
	"github.com/kalambet/cortex/internal/connections"
	"github.com/kalambet/cortex/internal/embedding"
	"github.com/kalambet/cortex/internal/ollama"
	"github.com/kalambet/cortex/internal/storage"
	"github.com/kalambet/cortex/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the cortex daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running cortex daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cortex system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "cortex.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "cortex version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if a daemon is already running via the
	// health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("cortex is already running (PID %d)", pid)
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		printWarning("cortex is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("daemon already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check Ollama readiness. The daemon runs degraded without it:
	// rule-based classification still works, embedding-backed features
	// surface errors until Ollama comes up.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	var backend embedding.Backend
	var textModel classify.TextModel
	if ollamaClient.IsRunning(ctx) {
		if ollamaClient.HasModel(ctx, cfg.Ollama.EmbedModel) {
			backend = embedding.NewOllamaBackend(ollamaClient, cfg.Ollama.EmbedModel, cfg.Intelligence.Language)
		} else {
			printWarning("embed model %q not found; run: ollama pull %s", cfg.Ollama.EmbedModel, cfg.Ollama.EmbedModel)
		}
		if ollamaClient.HasModel(ctx, cfg.Ollama.ClassifyModel) {
			textModel = classify.NewLLMModel(ollamaClient, cfg.Ollama.ClassifyModel)
		} else {
			printWarning("classify model %q not found; run: ollama pull %s", cfg.Ollama.ClassifyModel, cfg.Ollama.ClassifyModel)
		}
	} else {
		printWarning("Ollama not reachable at %s; running with rule-based classification only", cfg.Ollama.BaseURL)
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the intelligence components.
	embedder := embedding.New(backend, embedding.Config{
		MaxCacheSize: cfg.Intelligence.MaxCacheSize,
		Language:     cfg.Intelligence.Language,
	})
	statistical := classify.NewStatistical(embedder, textModel, cfg.Intelligence.StatThreshold)
	classifier := classify.New(statistical, classify.Config{
		RuleThreshold: cfg.Intelligence.RuleThreshold,
		StatThreshold: cfg.Intelligence.StatThreshold,
	})
	discoverer := connections.New(embedder, store, connections.Config{
		SimilarityThreshold: cfg.Intelligence.SimilarityThreshold,
		MaxConnections:      cfg.Intelligence.MaxConnections,
		TemporalWindow:      time.Duration(cfg.Intelligence.TemporalWindowMinutes) * time.Minute,
		TemporalBonus:       cfg.Intelligence.TemporalBonus,
		DebounceInterval:    time.Duration(cfg.Intelligence.DebounceMS) * time.Millisecond,
	})
	density := clustering.NewDensityEngine(embedder, clustering.DensityConfig{
		Eps:       cfg.Intelligence.Eps,
		MinPoints: cfg.Intelligence.MinPoints,
	})
	keywordCfg := clustering.KeywordConfig{AffinityThreshold: cfg.Intelligence.AffinityThreshold}

	// Build HTTP handler and server.
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:      store,
		Classifier: classifier,
		Discoverer: discoverer,
		Token:      cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Start background worker.
	w := worker.NewWorker(store, classifier, discoverer, density, keywordCfg, 500*time.Millisecond)
	go w.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:      store,
		Classifier: classifier,
		Discoverer: discoverer,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "cortex listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("cortex is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop cortex (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to cortex (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check daemon health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Daemon", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Daemon", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Daemon", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check Ollama.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Classify model", "%s", cfg.Ollama.ClassifyModel)

	// Show note/group counts if the daemon is running.
	if resp != nil && resp.StatusCode == 200 {
		if entriesResp, err := apiGet(client, serverURL+"/entries", cfg.Server.APIToken); err == nil {
			var entries []json.RawMessage
			if json.NewDecoder(entriesResp.Body).Decode(&entries) == nil {
				printStatus("Notes", "%d", len(entries))
			}
			entriesResp.Body.Close()
		}
		if groupsResp, err := apiGet(client, serverURL+"/groups", cfg.Server.APIToken); err == nil {
			var groups []json.RawMessage
			if json.NewDecoder(groupsResp.Body).Decode(&groups) == nil {
				printStatus("Groups", "%d", len(groups))
			}
			groupsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return client.Do(req)
}
