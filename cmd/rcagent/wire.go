package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/binding"
	"github.com/eliteGoblin/focusd/rc_agent/internal/config"
	"github.com/eliteGoblin/focusd/rc_agent/internal/infra"
	"github.com/eliteGoblin/focusd/rc_agent/internal/usecase"
)

// configNames are tried in order when no bindings file is given.
var configNames = []string{"config.json", "config.jsonc", "config.yaml", "config.yml"}

// env is everything loaded before the logger exists.
type env struct {
	cfg        *config.Config
	mode       *infra.ExecModeConfig
	configPath string
	snap       *binding.Snapshot
}

// loadEnvNoBindings resolves settings and paths without reading the
// bindings file.
func loadEnvNoBindings() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dir := cfg.DataDir
	if dataDir != "" {
		dir = dataDir
	}
	return &env{cfg: cfg, mode: infra.DetectExecMode(dir)}, nil
}

// loadEnv also loads the bindings file and merges its connection settings.
func loadEnv() (*env, error) {
	e, err := loadEnvNoBindings()
	if err != nil {
		return nil, err
	}

	e.configPath = resolveConfigPath(e.cfg.ConfigPath, e.mode.DataDir)
	snap, err := binding.LoadFile(e.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading bindings: %w", err)
	}
	e.snap = snap
	e.cfg.Merge(snap.Settings)
	return e, nil
}

func resolveConfigPath(fromEnv, dataDir string) string {
	if configPath != "" {
		return configPath
	}
	if fromEnv != "" {
		return fromEnv
	}
	for _, name := range configNames {
		p := filepath.Join(dataDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dataDir, configNames[0])
}

// resolvePassword reads the broker password from the encrypted store when
// neither the environment nor the bindings file set one.
func resolvePassword(e *env) error {
	if !e.cfg.UsesPassword() || e.cfg.Password != "" {
		return nil
	}
	store, err := infra.OpenStore(e.mode.KeyPath, e.mode.StorePath)
	if err != nil {
		return fmt.Errorf("opening secret store: %w", err)
	}
	defer store.Close()

	pw, err := store.GetSecret(config.SecretMQTTPassword)
	if err != nil && !errors.Is(err, infra.ErrSecretNotFound) {
		return err
	}
	e.cfg.Password = pw
	return nil
}

// app is the wired engine shared by run and dispatch.
type app struct {
	cfg        *config.Config
	bindings   *binding.Registry
	store      *infra.EncryptedStore // nil when the journal is unavailable
	metrics    *infra.Metrics
	dispatcher *usecase.DispatcherImpl
	logger     *zap.Logger
}

func newApp(e *env, logger *zap.Logger) (*app, error) {
	for _, w := range e.snap.Warnings {
		logger.Warn("bindings file warning", zap.String("warning", w))
	}

	bindings := binding.NewStore(e.snap, logger)
	logger.Info("loaded bindings",
		zap.String("file", e.configPath),
		zap.Int("enabled", bindings.Len()),
		zap.Int("skipped", len(bindings.Skipped())))

	if err := resolvePassword(e); err != nil {
		logger.Warn("could not read broker password from secret store", zap.Error(err))
	}
	if e.cfg.EnsureClientID(infra.NewClientIDGenerator()) {
		logger.Info("generated client id", zap.String("clientId", e.cfg.ClientID))
	}

	a := &app{
		cfg:      e.cfg,
		bindings: bindings,
		metrics:  infra.NewMetrics(),
		logger:   logger,
	}

	if err := e.mode.EnsureDataDir(); err == nil {
		store, err := infra.OpenStore(e.mode.KeyPath, e.mode.StorePath)
		if err != nil {
			logger.Warn("dispatch journal disabled", zap.Error(err))
		} else {
			a.store = store
		}
	}

	a.dispatcher = usecase.NewDispatcher(bindings, newPorts(e, logger), newTerminator(e, logger), logger).
		WithMetrics(a.metrics)
	if a.store != nil {
		a.dispatcher.WithJournal(a.store)
	}
	return a, nil
}

// newPorts builds the host capability ports.
func newPorts(e *env, logger *zap.Logger) usecase.Ports {
	runner := &infra.RealCommandRunner{}
	pm := infra.NewProcessManager()
	paths := infra.NewPathResolver()
	desktop := infra.NewDesktop(runner, logger)

	home, err := os.UserHomeDir()
	if err != nil {
		home = e.mode.DataDir
	}

	return usecase.Ports{
		Power:     desktop,
		Display:   desktop,
		Audio:     desktop,
		Media:     desktop,
		Keys:      desktop,
		Services:  desktop,
		Launcher:  infra.NewLauncher(paths, logger),
		Spawner:   infra.NewSpawner(home, logger),
		Processes: pm,
		Programs:  infra.NewProgramTerminator(pm, runner, paths, e.cfg.ProgramGrace, logger),
		Notifier:  infra.NewDesktopNotifier(runner, e.cfg.Notify, logger),
	}
}

// newTerminator runs interrupt, terminate and the kill utility for
// Interrupt. ForceKill signals directly and falls back to the utility.
func newTerminator(e *env, logger *zap.Logger) *usecase.Terminator {
	runner := &infra.RealCommandRunner{}
	pm := infra.NewProcessManager()

	return usecase.NewTerminator(pm,
		infra.NewEscalationSteps(pm, runner),
		infra.NewKillUtilityStep(runner),
		e.cfg.InterruptGrace, logger)
}

// Close releases the journal store.
func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
}
