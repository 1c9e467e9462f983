// Package main is the CLI entry point for rcagent.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/rc_agent/internal/binding"
	"github.com/eliteGoblin/focusd/rc_agent/internal/config"
	"github.com/eliteGoblin/focusd/rc_agent/internal/daemon"
	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
	"github.com/eliteGoblin/focusd/rc_agent/internal/infra"
	"github.com/eliteGoblin/focusd/rc_agent/internal/transport"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rcagent",
	Short: "Remote-control agent driven by MQTT topics",
	Long: `rcagent subscribes to MQTT topics and turns each message into a local
action: launching programs, running commands, controlling services,
power, screen, volume, media keys and keyboard shortcuts.

Topics and their behavior come from the bindings file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	Long: `Connects to the broker, subscribes to every enabled binding and
dispatches messages until interrupted. Only one agent may run per data directory.`,
	RunE: runAgent,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the bindings file",
	RunE:  runCheck,
}

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List enabled bindings in resolution order",
	RunE:  runTopics,
}

var sendCmd = &cobra.Command{
	Use:   "send <topic> <payload>",
	Short: "Publish a message to the broker",
	Args:  cobra.ExactArgs(2),
	RunE:  runSend,
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <topic> <payload>",
	Short: "Run one message locally without a broker",
	Long: `Resolves the topic against the bindings file and performs the action
in this process. Delayed power actions only fire with --wait.`,
	Args: cobra.ExactArgs(2),
	RunE: runDispatch,
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets in the encrypted store",
}

var secretSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a secret (e.g. mqtt_password)",
	Args:  cobra.ExactArgs(2),
	RunE:  runSecretSet,
}

var secretGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretGet,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status and recent dispatches",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath   string
	dataDir      string
	jsonOutput   bool
	waitDelayed  bool
	recentLimit  int
	dispatchTime time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Bindings file (default: $RCAGENT_CONFIG or <data dir>/config.json)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: $RCAGENT_DATA_DIR, ~/.rcagent or /var/lib/rcagent)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	dispatchCmd.Flags().BoolVar(&waitDelayed, "wait", false, "Wait for delayed actions to fire")
	dispatchCmd.Flags().DurationVar(&dispatchTime, "timeout", 5*time.Minute, "Upper bound for --wait")
	statusCmd.Flags().IntVar(&recentLimit, "recent", 10, "Number of journal entries to show")

	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretGetCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	if err := env.mode.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	logger := createLogger(env.cfg, env.mode.LogPath)
	defer func() { _ = logger.Sync() }()

	a, err := newApp(env, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid broker settings: %w", err)
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	if a.cfg.MetricsAddr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, a.cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	sub := transport.NewSubscriber(a.cfg, a.bindings.Topics(), a.dispatcher, logger)
	instance := infra.NewInstanceLock(env.mode.LockPath, env.mode.StatusPath)
	status := domain.InstanceStatus{
		PID:        os.Getpid(),
		ClientID:   a.cfg.ClientID,
		Broker:     a.cfg.BrokerURL(),
		Bindings:   a.bindings.Len(),
		Mode:       env.mode.Mode.String(),
		AppVersion: Version,
	}

	agentCfg := daemon.DefaultAgentConfig()
	agentCfg.HeartbeatInterval = a.cfg.HeartbeatInterval
	agent := daemon.NewAgent(agentCfg, instance, sub, status, logger).
		OnHeartbeat(func() {
			a.metrics.SetTrackedProcesses(a.dispatcher.Tracker().Total())
		})

	return agent.Run(ctx)
}

func runCheck(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}

	bindings := binding.NewStore(env.snap, zap.NewNop())

	fmt.Printf("Bindings file: %s\n", env.configPath)
	fmt.Printf("Enabled bindings: %d (of %d defined)\n", bindings.Len(), len(env.snap.Bindings))
	if skipped := bindings.Skipped(); len(skipped) > 0 {
		fmt.Printf("Skipped: %d\n", len(skipped))
		for _, err := range skipped {
			fmt.Printf("  - %v\n", err)
		}
	}
	if len(env.snap.Warnings) == 0 {
		fmt.Println("Warnings: none")
	} else {
		fmt.Printf("Warnings: %d\n", len(env.snap.Warnings))
		for _, w := range env.snap.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	if err := env.cfg.Validate(); err != nil {
		fmt.Printf("Broker settings: %v\n", err)
	} else {
		fmt.Printf("Broker: %s (%s)\n", env.cfg.BrokerURL(), env.cfg.AuthMode)
	}
	return nil
}

func runTopics(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	bindings := binding.NewStore(env.snap, zap.NewNop())

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOPIC\tKIND\tNAME\tON\tOFF")
	for _, b := range bindings.All() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			b.Topic, b.Kind, b.DisplayName(), describe(b.On), describe(b.Off))
	}
	return w.Flush()
}

func describe(spec domain.ActionSpec) string {
	if spec.Value == "" {
		return string(spec.Action)
	}
	v := spec.Value
	if len(v) > 40 {
		v = v[:37] + "..."
	}
	return fmt.Sprintf("%s(%s)", spec.Action, v)
}

func runSend(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	logger := createLogger(env.cfg, "")
	defer func() { _ = logger.Sync() }()

	if err := resolvePassword(env); err != nil {
		return err
	}
	env.cfg.EnsureClientID(infra.NewClientIDGenerator())
	if err := env.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid broker settings: %w", err)
	}

	pub := transport.NewPublisher(env.cfg, logger)
	if err := pub.Publish(cmd.Context(), args[0], []byte(args[1])); err != nil {
		return err
	}
	fmt.Printf("Sent %q to %s\n", args[1], args[0])
	return nil
}

func runDispatch(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	logger := createLogger(env.cfg, "")
	defer func() { _ = logger.Sync() }()

	a, err := newApp(env, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result := a.dispatcher.Dispatch(ctx, args[0], []byte(args[1]))
	if result.Err != nil {
		return fmt.Errorf("%s: %w", result.ErrorKind, result.Err)
	}
	if result.Message != "" {
		fmt.Println(result.Message)
	} else {
		fmt.Printf("%s: %s\n", result.Kind, result.Action)
	}

	pending := a.dispatcher.Scheduler().Pending()
	if len(pending) == 0 {
		return nil
	}
	if !waitDelayed {
		fmt.Printf("%d delayed action(s) dropped; use --wait to keep them\n", len(pending))
		return nil
	}

	deadline := time.After(dispatchTime)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for len(a.dispatcher.Scheduler().Pending()) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("delayed action still pending after %s", dispatchTime)
		case <-tick.C:
		}
	}
	return nil
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	env, err := loadEnvNoBindings()
	if err != nil {
		return err
	}
	if err := env.mode.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	store, err := infra.OpenStore(env.mode.KeyPath, env.mode.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetSecret(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Stored %s\n", args[0])
	return nil
}

func runSecretGet(cmd *cobra.Command, args []string) error {
	env, err := loadEnvNoBindings()
	if err != nil {
		return err
	}
	store, err := infra.OpenStore(env.mode.KeyPath, env.mode.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	value, err := store.GetSecret(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnvNoBindings()
	if err != nil {
		return err
	}
	pm := infra.NewProcessManager()
	instance := infra.NewInstanceLock(env.mode.LockPath, env.mode.StatusPath)

	fmt.Println("\n=== rcagent Status ===")

	status, err := instance.ReadStatus()
	if err != nil || status == nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'rcagent run' to start the agent.")
	} else {
		if pm.IsRunning(status.PID) {
			fmt.Printf("Status: RUNNING (pid %d)\n", status.PID)
		} else {
			fmt.Printf("Status: STALE (pid %d is gone)\n", status.PID)
		}
		fmt.Printf("Execution mode: %s\n", status.Mode)
		fmt.Printf("Broker: %s\n", status.Broker)
		fmt.Printf("Client id: %s\n", status.ClientID)
		fmt.Printf("Bindings: %d\n", status.Bindings)
		if status.AppVersion != "" {
			fmt.Printf("Version: %s\n", status.AppVersion)
		}
		if status.StartedAt > 0 {
			fmt.Printf("Started: %s\n", time.Unix(status.StartedAt, 0).Format(time.RFC3339))
		}
		if status.LastHeartbeat > 0 {
			lastBeat := time.Unix(status.LastHeartbeat, 0)
			fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
		}
	}

	store, err := infra.OpenStore(env.mode.KeyPath, env.mode.StorePath)
	if err != nil {
		fmt.Printf("\nJournal unavailable: %v\n", err)
		fmt.Println("======================")
		return nil
	}
	defer store.Close()

	entries, err := store.Recent(recentLimit)
	if err != nil {
		return err
	}
	fmt.Println("\nRecent dispatches:")
	if len(entries) == 0 {
		fmt.Println("  (none)")
	}
	for _, e := range entries {
		line := fmt.Sprintf("  %s  %-12s %-8s %s", e.At.Format("01-02 15:04:05"), e.Topic, e.Payload, e.Outcome)
		if e.ErrorKind != "" {
			line += " (" + e.ErrorKind + ")"
		}
		if e.Message != "" {
			line += ": " + e.Message
		}
		fmt.Println(strings.TrimRight(line, " "))
	}
	fmt.Println("======================")
	return nil
}

// createLogger writes JSON logs to logPath and stderr. An empty logPath
// logs to stderr only.
func createLogger(cfg *config.Config, logPath string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if cfg.LogDev {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	if logPath != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, logPath)
	}
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zcfg.Level = level
	}

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback to stderr only if the log file cannot be opened
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
	} else {
		fmt.Printf("rcagent %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
