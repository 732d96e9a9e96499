package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/staffrate/internal/adapters/repository"
	service "github.com/okian/staffrate/internal/app"
	"github.com/okian/staffrate/internal/config"
)

var errMemoryBackend = errors.New("the memory backend lives inside staffrated; choose redis or postgres")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "staffrate-seed <subcommand>",
		Short:         "manages the staff roster of a shared rating store",
		Long:          `provisions staff members into the redis or postgres rating store and shows the live tally`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config-file", "c", "", "Path to the config file (eg ./config.yaml) [Optional]")
	root.AddCommand(newProvisionCmd(), newShowCmd())
	return root
}

// loadConfig applies --config-file and then the usual defaults/file/env layering.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := os.Setenv(config.EnvConfigPath, path); err != nil {
			return nil, err
		}
	}
	return config.Load(cmd.Context())
}

// openSharedStore opens the configured store, refusing the process-local one.
func openSharedStore(cmd *cobra.Command, cfg *config.Config) (repository.Store, error) {
	if cfg.StoreBackend == config.BackendMemory {
		return nil, errMemoryBackend
	}
	store, err := service.OpenStore(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	return store, nil
}
