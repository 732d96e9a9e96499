package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/staffrate/internal/roster"
	"github.com/okian/staffrate/pkg/logger"
)

func newProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "insert or update staff members from a roster file",
		Long:  `inserts new members with zero counters and refreshes the metadata of existing ones; counters are never reset`,
		Args:  cobra.NoArgs,
		RunE:  provision,
	}
	cmd.Flags().StringP("roster", "r", "", "Path to the roster YAML (defaults to roster_path from config)")
	return cmd
}

func provision(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("roster")
	if path == "" {
		path = cfg.RosterPath
	}
	if path == "" {
		return fmt.Errorf("%w: no roster file given", roster.ErrInvalidRoster)
	}

	entities, err := roster.Load(path)
	if err != nil {
		return err
	}

	store, err := openSharedStore(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Provision(cmd.Context(), entities); err != nil {
		return fmt.Errorf("provision: %w", err)
	}

	logger.Named("seed").Info(cmd.Context(), "roster provisioned",
		logger.String("backend", cfg.StoreBackend),
		logger.String("roster", path),
		logger.Int("staff", len(entities)),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "provisioned %d staff members\n", len(entities))
	return nil
}
