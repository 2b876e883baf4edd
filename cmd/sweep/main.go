package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/damiano-salvaterra/SPE-project/internal/config"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Batch sweep orchestrator for simulation experiments",
		Long: `sweep enumerates a Cartesian product of experiment configurations
(apps x topologies x channels), replicates each with deterministic seeding,
and runs every job as an isolated external simulator process with fail-fast
semantics. Results are collected under a timestamped batch root.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for tooling consumption)")
	rootCmd.PersistentFlags().String("config", "", "Path to sweep configuration YAML")

	rootCmd.AddCommand(
		newVersionCmd(),
		newPlanCmd(),
		newRunCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "sweep version %s\n", version)
			}
		},
	}
}

// loadConfig loads and validates the sweep configuration named by the
// persistent --config flag.
func loadConfig(cmd *cobra.Command) (*config.SweepConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
