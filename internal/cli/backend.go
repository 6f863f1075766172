package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/abitmore/steem/internal/config"
	"github.com/abitmore/steem/internal/history"
	"github.com/abitmore/steem/internal/kvstore"
	"github.com/abitmore/steem/internal/memstore"
	"github.com/abitmore/steem/internal/store"
)

// StoreFlags override the config file's store section.
type StoreFlags struct {
	Backend string
	Path    string
}

func (f *StoreFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Path, "db", "", "path to the record store (overrides store.path)")
	cmd.Flags().StringVar(&f.Backend, "backend", "",
		fmt.Sprintf("store backend: %s|%s|%s (overrides store.backend)",
			config.BackendSQLite, config.BackendBadger, config.BackendMemory))
}

// resolve lays the flags over cfg.
func (f StoreFlags) resolve(cfg config.StoreConfig) config.StoreConfig {
	if f.Backend != "" {
		cfg.Backend = f.Backend
	}
	if f.Path != "" {
		cfg.Path = f.Path
	}
	return cfg
}

// openStore opens the configured backend for ingestion. The store is created
// if it does not exist.
func openStore(cfg config.StoreConfig, logger *slog.Logger) (history.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		if cfg.Path == "" {
			return nil, errors.New("sqlite backend requires a path")
		}
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendBadger:
		kv := kvstore.DefaultConfig(cfg.Path)
		kv.Logger = logger
		st, err := kvstore.Open(kv)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendMemory:
		return memstore.New(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// openExistingStore opens a store for queries. Unlike openStore it refuses to
// create anything, and rejects the memory backend since it never has records
// from another process.
func openExistingStore(cfg config.StoreConfig, logger *slog.Logger) (history.Store, error) {
	if cfg.Backend == config.BackendMemory {
		return nil, errors.New("memory backend holds no records outside the ingesting process")
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("store not found at %q: %w", cfg.Path, err)
	}
	return openStore(cfg, logger)
}
