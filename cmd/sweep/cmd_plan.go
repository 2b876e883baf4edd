package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/damiano-salvaterra/SPE-project/internal/config"
	"github.com/damiano-salvaterra/SPE-project/internal/sweep"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the enumerated job list without executing",
		Long: `Expand the configured sweep into its ordered job list and print it,
one line per job, together with the totals. Nothing is executed and no
directories are created.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			return printPlan(cmd.OutOrStdout(), cfg, jsonOut)
		},
	}
}

type planJob struct {
	Index       int    `json:"index"`
	App         string `json:"app"`
	Topology    string `json:"topology"`
	Channel     string `json:"channel"`
	Replication int    `json:"replication"`
	Seed        int64  `json:"seed"`
	Antithetic  bool   `json:"antithetic,omitempty"`
	OutDir      string `json:"out_dir"`
}

func printPlan(w io.Writer, cfg *config.SweepConfig, jsonOut bool) error {
	jobs := sweep.Plan(cfg)

	if jsonOut {
		out := make([]planJob, len(jobs))
		for i, j := range jobs {
			out[i] = planJob{
				Index:       j.Index,
				App:         j.App,
				Topology:    j.Topology,
				Channel:     j.Channel,
				Replication: j.Replication,
				Seed:        j.Seed,
				Antithetic:  j.Antithetic,
				OutDir:      j.RelDir(),
			}
		}
		return json.NewEncoder(w).Encode(map[string]interface{}{
			"jobs":           out,
			"configurations": sweep.TotalConfigs(cfg),
			"replications":   cfg.Replication.Count,
			"total":          len(jobs),
		})
	}

	for _, j := range jobs {
		marker := ""
		if j.Antithetic {
			marker = " (antithetic)"
		}
		fmt.Fprintf(w, "%4d  %-10s %-14s %-16s r=%-3d seed=%d%s  %s\n",
			j.Index+1, j.App, j.Topology, j.Channel, j.Replication, j.Seed, marker, j.RelDir())
	}
	fmt.Fprintf(w, "\nConfigurations: %d  Replications per config: %d  Total jobs: %d\n",
		sweep.TotalConfigs(cfg), cfg.Replication.Count, len(jobs))
	return nil
}
