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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/redactor/internal/api"
	"github.com/kalambet/redactor/internal/company"
	"github.com/kalambet/redactor/internal/config"
	"github.com/kalambet/redactor/internal/llm"
	"github.com/kalambet/redactor/internal/ollama"
	"github.com/kalambet/redactor/internal/pipeline"
	"github.com/kalambet/redactor/internal/reference"
	"github.com/kalambet/redactor/internal/results"
	"github.com/kalambet/redactor/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the redactor server (foreground)",
	Long: `Start the HTTP API on 127.0.0.1:<server.port>.

With --mcp the MCP tool server also runs on stdin/stdout, so an MCP client
can launch redactor directly. Logs always go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running redactor server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show redactor system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "redactor.pid")
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

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "redactor version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))
	logger := slog.Default()

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("redactor is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("redactor is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if strings.EqualFold(cfg.LLM.Provider, llm.Ollama) {
		model := cfg.LLM.Model
		if model == "" {
			model = llm.DefaultModel(llm.Ollama)
		}
		if err := ollama.EnsureModel(ctx, ollamaClient, model, os.Stderr); err != nil {
			slog.Warn("ollama not ready; requests to it will fail until it is", "error", err)
		}
	}

	resultStore, err := results.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening results: %w", err)
	}
	refs, err := reference.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening references: %w", err)
	}
	ledger, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening usage ledger: %w", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing usage ledger: %v\n", err)
		}
	}()

	profilePath := cfg.ProfilePath()
	if created, err := company.EnsureDefault(profilePath); err != nil {
		slog.Warn("could not create company profile", "path", profilePath, "error", err)
	} else if created {
		slog.Info("created starter company profile; edit it to describe your company", "path", profilePath)
	}
	companyMgr := company.NewManager(profilePath)
	if err := companyMgr.Watch(ctx); err != nil {
		slog.Warn("company profile changes will be picked up on cache expiry only", "error", err)
	}

	keys := cfg.Keys.ByProvider()
	runner := pipeline.NewRunner(pipeline.Deps{
		Results:    resultStore,
		References: refs,
		Ledger:     ledger,
		Company:    companyMgr.Context,
		Logger:     logger,
	}, pipeline.Defaults{
		Provider:       cfg.LLM.Provider,
		Model:          cfg.LLM.Model,
		Temperature:    cfg.LLM.Temperature,
		MaxWords:       cfg.LLM.MaxWords,
		RequestTimeout: cfg.RequestTimeout(),
		OllamaURL:      cfg.Ollama.BaseURL,
		APIKeys:        keys,
	})

	if cfg.Server.APIToken == "" {
		slog.Info("server.api_token is unset; the HTTP API accepts unauthenticated local requests")
	}
	handler := api.NewHandler(api.Deps{
		Runner:     runner,
		References: refs,
		Usage:      ledger,
		Company:    companyMgr,
		Token:      cfg.Server.APIToken,
		Keys:       keys,
		Ollama:     ollamaClient,
		Logger:     logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Runner:     runner,
			References: refs,
			Company:    companyMgr,
			Version:    version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "redactor listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

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
		printError("redactor is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop redactor (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to redactor (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if ollama.New(cfg.Ollama.BaseURL).IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}

	model := cfg.LLM.Model
	if model == "" {
		model = llm.DefaultModel(cfg.LLM.Provider)
	}
	printStatus("Provider", "%s (%s)", cfg.LLM.Provider, model)
	if !llm.HasKey(cfg.LLM.Provider, cfg.Keys.ByProvider()[strings.ToLower(cfg.LLM.Provider)]) {
		printWarning("no API key for %s; set %s or run `redactor config set %s.api_key <key>`",
			cfg.LLM.Provider, llm.KeyEnv(cfg.LLM.Provider), strings.ToLower(cfg.LLM.Provider))
	}

	if running {
		c := &apiClient{
			baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
			token:      cfg.Server.APIToken,
			httpClient: client,
		}
		if resp, err := c.get(ctx, "/stats"); err == nil {
			var s results.Stats
			if decodeJSON(resp, &s) == nil {
				printStatus("This month", "%d results, %d approved, %d rejected", s.Total, s.Approved, s.Rejected)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Company profile", "%s", cfg.ProfilePath())
	return nil
}
