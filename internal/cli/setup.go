package cli

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/vjohannesb/majordomo/internal/config"
	"github.com/vjohannesb/majordomo/internal/logger"
	"github.com/vjohannesb/majordomo/pkg/backend"
	"github.com/vjohannesb/majordomo/pkg/session"
	"github.com/vjohannesb/majordomo/pkg/tools"
)

// loadConfig loads configuration, applying the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setupLogger builds the process logger from config and installs it as the
// zerolog global.
func setupLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Logger = l.Zerolog()
	return l, nil
}

func selectorOptions(cfg *config.Config) backend.Options {
	return backend.Options{
		Kind:       cfg.Backend.Kind,
		Credential: cfg.Backend.Credential,
		Model:      cfg.Backend.Model,
		Endpoint:   cfg.Backend.Endpoint,
		CLIPath:    cfg.Backend.CLIPath,
	}
}

func openStore(cfg *config.Config) (*session.Store, error) {
	return session.New(cfg.SessionsDir)
}

// openPendingStore opens the approval state shared across processes, so a
// code issued during a chat run can be approved from another terminal.
func openPendingStore(cfg *config.Config) (*tools.PendingStore, error) {
	return tools.NewPendingStore(tools.PendingStoreOptions{
		Path: filepath.Join(cfg.DataDir, "approvals.json"),
	})
}
