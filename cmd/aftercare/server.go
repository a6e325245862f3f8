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

	"github.com/carelink/aftercare/internal/agents"
	"github.com/carelink/aftercare/internal/api"
	"github.com/carelink/aftercare/internal/audit"
	"github.com/carelink/aftercare/internal/config"
	"github.com/carelink/aftercare/internal/directory"
	"github.com/carelink/aftercare/internal/gateway"
	"github.com/carelink/aftercare/internal/orchestrator"
	"github.com/carelink/aftercare/internal/policy"
	"github.com/carelink/aftercare/internal/router"
	"github.com/carelink/aftercare/internal/triage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the aftercare server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running aftercare server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aftercare system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "aftercare.pid")
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

func auditPath(cfg config.Config) string {
	if cfg.Audit.Path != "" {
		return cfg.Audit.Path
	}
	return filepath.Join(cfg.Storage.DataDir, "turns.jsonl")
}

// buildGateway assembles the provider fallback chain from config.
// Providers without a credential stay in the chain and are skipped at
// call time.
func buildGateway(cfg config.Config) (*gateway.Gateway, error) {
	var specs []gateway.ProviderSpec
	for i, name := range cfg.Gateway.ProviderNames() {
		spec := gateway.ProviderSpec{Name: name, Priority: i}
		switch name {
		case "openai":
			spec.Model = cfg.Gateway.OpenAIModel
			spec.APIKey = cfg.Gateway.OpenAIAPIKey
		case "anthropic":
			spec.Model = cfg.Gateway.AnthropicModel
			spec.APIKey = cfg.Gateway.AnthropicAPIKey
		case "gemini":
			spec.Model = cfg.Gateway.GeminiModel
			spec.APIKey = cfg.Gateway.GeminiAPIKey
		}
		specs = append(specs, spec)
	}
	return gateway.New(specs, time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "aftercare version %s\n", version)

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

	if cfg.Server.APIToken == "" {
		printWarning("AFTERCARE_API_TOKEN not set; the HTTP API is unauthenticated")
	}

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("aftercare is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("aftercare is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the patient directory.
	store, err := directory.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening directory: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing directory: %v\n", err)
		}
	}()

	// Open the audit log.
	auditLog, err := audit.Open(auditPath(cfg), slog.Default())
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditLog.Close()

	// Build the completion gateway.
	gw, err := buildGateway(cfg)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	// Triage rules: file override or built-in table.
	rules := triage.DefaultRules()
	if cfg.Triage.RulesPath != "" {
		rules, err = triage.LoadRules(cfg.Triage.RulesPath)
		if err != nil {
			return fmt.Errorf("loading triage rules: %w", err)
		}
	}
	classifier := triage.NewClassifier(rules, store, cfg.Triage.RepeatWindowDays)

	// Agent policies.
	policies, err := policy.Load(cfg.Policy.RulesPath)
	if err != nil {
		return fmt.Errorf("loading policies: %w", err)
	}

	// Build the agents and the turn pipeline.
	logger := slog.Default()
	caregiver := agents.NewCaregiver(store, logger)
	handlers := map[router.Intent]orchestrator.Handler{
		router.IntentAppointment: agents.NewAppointment(store, classifier, policies, logger),
		router.IntentFollowup:    agents.NewFollowup(classifier, store, gw, logger),
		router.IntentMedication:  agents.NewMedication(store, gw, logger),
		router.IntentCaregiver:   caregiver,
		router.IntentHelp:        agents.NewHelp(gw, logger),
	}

	orch, err := orchestrator.New(router.New(gw, logger), handlers, auditLog, logger)
	if err != nil {
		return fmt.Errorf("building orchestrator: %w", err)
	}

	// Drain failure channels so a dead provider or a full disk shows up
	// in the logs without touching the pipeline.
	go func() {
		for f := range gw.Failures() {
			slog.Warn("provider failure", "provider", f.Provider, "error", f.Err, "at", f.At)
		}
	}()
	go func() {
		for f := range auditLog.Failures() {
			slog.Error("audit write failure", "turn", f.Record.ID, "error", f.Err, "at", f.At)
		}
	}()

	// Build HTTP handler and server.
	handler := api.NewHandler(orch, cfg.Server.APIToken)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Orchestrator: orch,
		Triage:       classifier,
		Caregiver:    caregiver,
		Policies:     policies,
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
		fmt.Fprintf(os.Stderr, "aftercare listening on %s\n", addr)
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
		printError("aftercare is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop aftercare (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to aftercare (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Show the provider chain with credential presence.
	var chain []string
	for _, name := range cfg.Gateway.ProviderNames() {
		key := ""
		switch name {
		case "openai":
			key = cfg.Gateway.OpenAIAPIKey
		case "anthropic":
			key = cfg.Gateway.AnthropicAPIKey
		case "gemini":
			key = cfg.Gateway.GeminiAPIKey
		}
		if key != "" {
			chain = append(chain, name)
		} else {
			chain = append(chain, name+" (no key)")
		}
	}
	printStatus("Providers", "%s", strings.Join(chain, " → "))

	if cfg.Triage.RulesPath != "" {
		printStatus("Triage rules", "%s", cfg.Triage.RulesPath)
	} else {
		printStatus("Triage rules", "built-in")
	}
	if cfg.Policy.RulesPath != "" {
		printStatus("Policies", "%s", cfg.Policy.RulesPath)
	} else {
		printStatus("Policies", "built-in defaults")
	}

	printStatus("Audit log", "%s", auditPath(cfg))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
