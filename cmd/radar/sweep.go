package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"radar/internal/config"
	"radar/internal/postgres"
	"radar/internal/worker"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired signals once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			db, err := postgres.Init(cfg.DBUrl)
			if err != nil {
				return err
			}
			defer closeDB(db)

			bus, closeBus, err := openBus(cfg)
			if err != nil {
				return err
			}
			defer closeBus()

			worker.SweepOnce(cmd.Context(), postgres.NewPresenceStore(db, bus))
			return nil
		},
	}
}
