package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/feltd/internal/family"
	"github.com/fyrsmithlabs/feltd/internal/persistence"
	"github.com/fyrsmithlabs/feltd/internal/services"
)

// statsOutput is what feltd stats prints.
type statsOutput struct {
	StateDir string                   `json:"state_dir"`
	Loaded   []persistence.LoadReport `json:"loaded"`
	Families family.Stats             `json:"families"`
	Coupling couplingStats            `json:"coupling"`
	Entities int                      `json:"entities"`
}

type couplingStats struct {
	Turns     uint64  `json:"turns"`
	Std       float64 `json:"std"`
	Mean      float64 `json:"mean"`
	Saturated bool    `json:"saturated"`
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise persisted learned state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := cliLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			// The runtime is never started or closed, so nothing is written back.
			rt, err := services.Build(cmd.Context(), cfg, logger.Underlying())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), collectStats(cfg.Persistence.Dir, rt))
		},
	}
}

func collectStats(dir string, rt *services.Runtime) statsOutput {
	cs := rt.Learning().CouplingStore()
	return statsOutput{
		StateDir: dir,
		Loaded:   rt.LoadReports(),
		Families: rt.Learning().Families().Stats(),
		Coupling: couplingStats{
			Turns:     cs.Turns(),
			Std:       cs.Std(),
			Mean:      cs.Mean(),
			Saturated: cs.Saturated(),
		},
		Entities: rt.Entities().Len(),
	}
}
