package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/agentgate/agentgate/internal/admission"
	"github.com/agentgate/agentgate/internal/alert"
	"github.com/agentgate/agentgate/internal/api"
	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/decision"
	"github.com/agentgate/agentgate/internal/emergency"
	"github.com/agentgate/agentgate/internal/gate"
	"github.com/agentgate/agentgate/internal/ratelimit"
	"github.com/agentgate/agentgate/internal/store"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentgate",
		Short: "Admission control for autonomous coding agents",
		Long:  "Agentgate decides whether a requested agent action may proceed before it executes:\nrate limits, emergency controls, human confirmation gates and confidence-based decisions.",
	}

	var configFile string
	var port int
	var devMode bool

	// ─── start ───
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the agentgate admission server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile, port, devMode)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: agentgate.yaml)")
	startCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port (default: 7343)")
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Dev mode: verbose logs, CORS *")

	// ─── init ───
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate starter config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	// ─── status ───
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status, open violations and gate state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(port)
		},
	}

	// ─── version ───
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentgate %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	// ─── agent ───
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Per-agent emergency controls",
	}

	agentListCmd := &cobra.Command{
		Use:   "list",
		Short: "List agents with emergency state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentList(port)
		},
	}

	agentEventsCmd := &cobra.Command{
		Use:   "events [agent-id]",
		Short: "Show emergency event history for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentEvents(port, args[0])
		},
	}

	var reason string
	agentPauseCmd := &cobra.Command{
		Use:   "pause [agent-id]",
		Short: "Pause an agent (auto-resumes after the configured maximum)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmergencyAction(port, args[0], "pause", reason)
		},
	}
	agentPauseCmd.Flags().StringVar(&reason, "reason", "", "Why the agent is being paused")

	agentResumeCmd := &cobra.Command{
		Use:   "resume [agent-id]",
		Short: "Resume a paused agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmergencyAction(port, args[0], "resume", "")
		},
	}

	var stopReason string
	agentStopCmd := &cobra.Command{
		Use:   "stop [agent-id]",
		Short: "Stop an agent (terminal until restart)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmergencyAction(port, args[0], "stop", stopReason)
		},
	}
	agentStopCmd.Flags().StringVar(&stopReason, "reason", "", "Why the agent is being stopped")

	agentRestartCmd := &cobra.Command{
		Use:   "restart [agent-id]",
		Short: "Clear a stopped agent's stop state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmergencyAction(port, args[0], "restart", "")
		},
	}

	agentCmd.AddCommand(agentListCmd, agentEventsCmd, agentPauseCmd, agentResumeCmd, agentStopCmd, agentRestartCmd)

	// ─── violations ───
	violationsCmd := &cobra.Command{
		Use:   "violations",
		Short: "List rate-limit violations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runViolationsList(port, cmd)
		},
	}
	var violationsAgent string
	violationsCmd.Flags().StringVar(&violationsAgent, "agent", "", "Filter by agent ID")

	var grantedBy string
	overrideCmd := &cobra.Command{
		Use:   "override [violation-id]",
		Short: "Grant a human override for a rate-limit violation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOverride(port, args[0], grantedBy)
		},
	}
	overrideCmd.Flags().StringVar(&grantedBy, "by", "", "Who is granting the override (required)")
	_ = overrideCmd.MarkFlagRequired("by")

	// ─── gate ───
	gateCmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect and answer pending confirmation gates",
	}

	gateShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the pending gate prompt, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateShow(port)
		},
	}

	var answers []string
	var confirmationCode string
	gateRespondCmd := &cobra.Command{
		Use:   "respond [proceed|modify|stop]",
		Short: "Answer the pending gate prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateRespond(port, args[0], answers, confirmationCode)
		},
	}
	gateRespondCmd.Flags().StringArrayVarP(&answers, "answer", "a", nil, "Answer to a gate question (repeatable)")
	gateRespondCmd.Flags().StringVar(&confirmationCode, "code", "", "Confirmation code from the confirm-phase prompt")

	gateCmd.AddCommand(gateShowCmd, gateRespondCmd)

	// ─── rules ───
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Admission rule commands",
	}

	rulesValidateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config and compile every rule condition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesValidate(configFile)
		},
	}
	rulesValidateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	rulesReloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Hot-reload config and rules without restart",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/config/reload", p), "application/json", nil)
			if err != nil {
				return fmt.Errorf("failed to connect to agentgate: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == 200 {
				fmt.Println("✓ Config and rules reloaded")
			} else {
				fmt.Printf("✗ Reload failed (HTTP %d)\n", resp.StatusCode)
			}
			return nil
		},
	}

	rulesCmd.AddCommand(rulesValidateCmd, rulesReloadCmd)

	rootCmd.AddCommand(startCmd, initCmd, statusCmd, versionCmd, agentCmd, violationsCmd, overrideCmd, gateCmd, rulesCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStart(configFile string, portOverride int, devMode bool) error {
	cfgLoader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg := cfgLoader.Get()

	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if devMode {
		cfg.Server.CORS = true
		cfg.Server.LogLevel = "debug"
	}

	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	if err := st.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = st.Close() }()

	alertMgr := alert.NewManager(cfg.Alerts, logger)

	emergencyStore := emergency.NewStateStore(cfg.Emergency, st, nil, alertMgr, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emergencyStore.Start(ctx)
	defer emergencyStore.StopSweep()

	limiter := ratelimit.NewLimiter(cfg.RateLimit, st, logger)

	rules, err := admission.NewRuleSet(cfg.Rules, logger)
	if err != nil {
		return fmt.Errorf("failed to build rule set: %w", err)
	}

	transport, err := gate.NewFileTransport(cfg.Gate.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to create gate transport: %w", err)
	}
	defer func() { _ = transport.Close() }()
	gateProto := gate.NewProtocol(transport, cfg.Gate, st, alertMgr, logger)

	strategy := decision.NewStrategy(cfg.Decision, logger)

	pipeline := admission.NewPipeline(cfg, nil, emergencyStore, limiter, rules, gateProto, strategy, nil, st, logger)

	apiServer := api.NewServer(cfg.Server, st, cfgLoader, pipeline, emergencyStore, limiter, rules, gateProto, transport, logger)

	// Hot-reload rules when the config file changes.
	if configFile != "" {
		stopWatch, err := watchConfig(configFile, logger, func() {
			if err := cfgLoader.Reload(); err != nil {
				logger.Error("hot-reload failed", "error", err)
				return
			}
			rules.Reload(cfgLoader.Get().Rules)
		})
		if err != nil {
			logger.Error("failed to watch config for hot-reload", "error", err)
		} else {
			defer stopWatch()
		}
	}

	// Retention pruning.
	if days := int(cfg.Storage.Retention.Hours() / 24); days > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n, err := st.PruneOlderThan(days); err != nil {
						logger.Error("retention prune failed", "error", err)
					} else if n > 0 {
						logger.Info("pruned old records", "rows", n)
					}
					alertMgr.PruneDedup()
				}
			}
		}()
	}

	fmt.Println()
	fmt.Println("  agentgate " + version)
	fmt.Println("  Admission control for autonomous coding agents")
	fmt.Println()
	fmt.Printf("  → API:      http://localhost:%d/api\n", cfg.Server.Port)
	fmt.Printf("  → Events:   ws://localhost:%d/api/ws/events\n", cfg.Server.Port)
	fmt.Printf("  → Storage:  %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Printf("  → Gate dir: %s\n", cfg.Gate.Dir)
	fmt.Printf("  → Alerts:   %v\n", alertMgr.HasSenders())
	fmt.Println()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = apiServer.Shutdown(shutCtx)
	}()

	if err := apiServer.Start(api.APIAddr(cfg.Server.Port)); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// watchConfig watches one file and invokes onChange on writes, coalescing
// duplicate events from editors that write via rename.
func watchConfig(path string, logger *slog.Logger, onChange func()) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	target := filepath.Clean(path)
	go func() {
		var last time.Time
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if time.Since(last) < 200*time.Millisecond {
					continue
				}
				last = time.Now()
				logger.Info("config file changed, reloading", "path", path)
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("config watcher error", "error", err)
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}

// ─── Init ───

func runInit() error {
	configPath := "agentgate.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  ⚠ %s already exists (skipping)\n", configPath)
	} else {
		if err := config.GenerateDefault(configPath); err != nil {
			return err
		}
		fmt.Printf("  ✓ Generated %s\n", configPath)
	}

	cfg := config.DefaultConfig()
	for _, dir := range []string{cfg.DataDir, cfg.Gate.Dir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		fmt.Printf("  ✓ Created %s/\n", strings.TrimSuffix(dir, "/"))
	}

	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Println("    agentgate start            # Start the admission server")
	fmt.Println("    agentgate status           # Check it is running")
	fmt.Println("    agentgate gate show        # See pending confirmation prompts")
	return nil
}

// ─── Status ───

func runStatus(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/status", p))
	if err != nil {
		fmt.Printf("agentgate is not running on port %d\n", p)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var status map[string]interface{}
	if err := decodeJSON(resp, &status); err != nil {
		return err
	}

	fmt.Println("agentgate status")
	fmt.Println("────────────────")
	fmt.Printf("  %-20s %v\n", "gate_active:", status["gate_active"])
	fmt.Printf("  %-20s %v\n", "ws_clients:", status["ws_clients"])
	if stats, ok := status["stats"].(map[string]interface{}); ok {
		for k, v := range stats {
			fmt.Printf("  %-20s %v\n", k+":", v)
		}
	}
	return nil
}

// ─── Agents ───

func runAgentList(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/agents", p))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	_ = decodeJSON(resp, &result)

	agents, ok := result["agents"].([]interface{})
	if !ok || len(agents) == 0 {
		fmt.Println("No agents with emergency state.")
		return nil
	}

	fmt.Printf("%-20s %-8s %-8s %s\n", "AGENT", "PAUSED", "STOPPED", "UPDATED")
	fmt.Println(strings.Repeat("─", 60))
	for _, a := range agents {
		m := a.(map[string]interface{})
		fmt.Printf("%-20v %-8v %-8v %v\n", m["agent_id"], m["is_paused"], m["is_stopped"], m["updated_at"])
	}
	return nil
}

func runAgentEvents(port int, agentID string) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/agents/%s/events", p, agentID))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	_ = decodeJSON(resp, &result)

	events, ok := result["events"].([]interface{})
	if !ok || len(events) == 0 {
		fmt.Printf("No emergency events for agent %s.\n", agentID)
		return nil
	}

	for _, e := range events {
		m := e.(map[string]interface{})
		fmt.Printf("  [%v] %v by %v: %v\n", m["timestamp"], m["action"], m["initiated_by"], m["reason"])
	}
	return nil
}

func runEmergencyAction(port int, agentID, action, reason string) error {
	p := resolvePort(port)
	body := fmt.Sprintf(`{"reason":%q,"initiated_by":"cli"}`, reason)
	resp, err := http.Post(
		fmt.Sprintf("http://localhost:%d/api/agents/%s/%s", p, agentID, action),
		"application/json", strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != 200 {
		var errBody map[string]string
		_ = decodeJSON(resp, &errBody)
		fmt.Printf("✗ %s failed: %s\n", action, errBody["error"])
		return nil
	}
	fmt.Printf("✓ Agent %s: %s\n", agentID, action)
	return nil
}

// ─── Violations ───

func runViolationsList(port int, cmd *cobra.Command) error {
	p := resolvePort(port)
	agent, _ := cmd.Flags().GetString("agent")
	url := fmt.Sprintf("http://localhost:%d/api/violations?limit=20", p)
	if agent != "" {
		url += "&agent_id=" + agent
	}

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	_ = decodeJSON(resp, &result)

	violations, ok := result["violations"].([]interface{})
	if !ok || len(violations) == 0 {
		fmt.Println("No violations recorded.")
		return nil
	}

	fmt.Printf("%-28s %-20s %-10s %-10s %s\n", "ID", "CATEGORY", "COUNT", "RESOLVED", "AGENT")
	fmt.Println(strings.Repeat("─", 90))
	for _, v := range violations {
		m := v.(map[string]interface{})
		fmt.Printf("%-28v %-20v %v/%-8v %-10v %v\n",
			m["id"], m["category"], num(m["current_count"]), num(m["threshold"]), m["resolved"], m["agent_id"])
	}
	return nil
}

func runOverride(port int, violationID, grantedBy string) error {
	p := resolvePort(port)
	body := fmt.Sprintf(`{"granted_by":%q}`, grantedBy)
	resp, err := http.Post(
		fmt.Sprintf("http://localhost:%d/api/violations/%s/override", p, violationID),
		"application/json", strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != 200 {
		var errBody map[string]string
		_ = decodeJSON(resp, &errBody)
		fmt.Printf("✗ Override failed: %s\n", errBody["error"])
		return nil
	}
	fmt.Printf("✓ Override granted for violation %s by %s\n", violationID, grantedBy)
	return nil
}

// ─── Gate ───

func runGateShow(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/gate", p))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		fmt.Println("No gate pending.")
		return nil
	}

	var prompt map[string]interface{}
	if err := decodeJSON(resp, &prompt); err != nil {
		return err
	}

	fmt.Printf("Gate %v  (phase: %v)\n", prompt["gate_id"], prompt["phase"])
	fmt.Printf("Agent:     %v\n", prompt["agent_id"])
	fmt.Printf("Operation: %v\n", prompt["operation"])
	fmt.Printf("Title:     %v\n", prompt["title"])
	if ctx, ok := prompt["context"].(string); ok && ctx != "" {
		fmt.Printf("Context:   %v\n", ctx)
	}
	if questions, ok := prompt["questions"].([]interface{}); ok {
		fmt.Println("Questions:")
		for i, q := range questions {
			fmt.Printf("  %d. %v\n", i+1, q)
		}
	}
	if proposed, ok := prompt["proposed_answers"].([]interface{}); ok && len(proposed) > 0 {
		fmt.Println("Proposed answers:")
		for _, a := range proposed {
			fmt.Printf("  - %v\n", a)
		}
	}
	if code, ok := prompt["confirmation_code"].(string); ok && code != "" {
		fmt.Printf("Confirmation code: %s\n", code)
		fmt.Printf("\nTo confirm:  agentgate gate respond proceed --code %s\n", code)
	}
	return nil
}

func runGateRespond(port int, decision string, answers []string, code string) error {
	p := resolvePort(port)
	payload := map[string]interface{}{
		"decision": decision,
		"at":       time.Now().Format(time.RFC3339),
	}
	if len(answers) > 0 {
		payload["answers"] = answers
	}
	if code != "" {
		payload["confirmation_code"] = code
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/gate/response", p),
		"application/json", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != 200 {
		var errBody map[string]string
		_ = decodeJSON(resp, &errBody)
		fmt.Printf("✗ Response rejected: %s\n", errBody["error"])
		return nil
	}
	fmt.Printf("✓ Gate response recorded: %s\n", decision)
	return nil
}

// ─── Rules ───

func runRulesValidate(configFile string) error {
	path := configFile
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return fmt.Errorf("no config file found, run 'agentgate init' to create one")
	}

	loader := config.NewLoader()
	if err := loader.Load(path); err != nil {
		fmt.Printf("✗ Invalid config: %s\n", err)
		return err
	}

	cfg := loader.Get()
	fmt.Printf("✓ Config file valid: %s\n", path)
	fmt.Printf("  Rules:      %d\n", len(cfg.Rules))
	fmt.Printf("  Categories: %d\n", len(cfg.RateLimit.Categories))
	fmt.Printf("  Storage:    %s\n", cfg.Storage.Driver)
	fmt.Printf("  Port:       %d\n", cfg.Server.Port)

	for _, rule := range cfg.Rules {
		rs, err := admission.NewRuleSet([]config.RuleConfig{rule}, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
		if err != nil {
			return err
		}
		if rs.Len() == 0 {
			fmt.Printf("  ✗ Rule %q: condition did not compile\n", rule.Name)
		} else {
			fmt.Printf("  ✓ Rule %q: condition valid\n", rule.Name)
		}
	}
	return nil
}

// ─── Shared Helpers ───

func findConfigFile() string {
	candidates := []string{
		"agentgate.yaml",
		"agentgate.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "agentgate", "config.yaml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func resolvePort(port int) int {
	if port == 0 {
		return 7343
	}
	return port
}

func decodeJSON(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func num(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
