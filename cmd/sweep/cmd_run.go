package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/damiano-salvaterra/SPE-project/internal/logging"
	"github.com/damiano-salvaterra/SPE-project/internal/runner"
	"github.com/damiano-salvaterra/SPE-project/internal/sweep"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the configured sweep",
		Long: `Execute every job of the configured sweep, strictly sequentially and in
deterministic enumeration order (app, then topology, then channel, with the
replication index innermost). The first job failure aborts the remaining
sweep; partial results are left on disk.

Example:
  sweep run --config sweep.yaml --replications 20 --base-seed 12345`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			// Flag overrides on top of file/env configuration
			if cmd.Flags().Changed("replications") {
				cfg.Replication.Count, _ = cmd.Flags().GetInt("replications")
			}
			if cmd.Flags().Changed("base-seed") {
				cfg.Replication.BaseSeed, _ = cmd.Flags().GetInt64("base-seed")
			}
			if cmd.Flags().Changed("topo-seed") {
				cfg.Replication.TopoSeed, _ = cmd.Flags().GetInt64("topo-seed")
			}
			if cmd.Flags().Changed("antithetic") {
				cfg.Replication.Antithetic, _ = cmd.Flags().GetBool("antithetic")
			}
			if cmd.Flags().Changed("verbose") {
				cfg.Simulator.Verbose, _ = cmd.Flags().GetBool("verbose")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			resume, _ := cmd.Flags().GetString("resume")

			if dryRun {
				return printPlan(cmd.OutOrStdout(), cfg, jsonOut)
			}

			// Environment preflight must happen before any job runs.
			env, err := runner.PrepareEnv(cfg.Simulator, runner.BaseDir())
			if err != nil {
				return err
			}

			log := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
			sim := runner.NewSimulator(cfg, env)
			orch := sweep.New(cfg, sim, log, cmd.OutOrStdout())

			// Cancellation is observed between jobs only; the in-flight job's
			// outcome is undefined for the orchestrator's own bookkeeping.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := orch.Execute(ctx, sweep.Options{Resume: resume})
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"status":     "completed",
					"batch_root": res.BatchRoot,
					"total":      res.Total,
					"completed":  res.Completed,
					"skipped":    res.Skipped,
				})
			}
			return nil
		},
	}

	cmd.Flags().Int("replications", 0, "Override the number of replications per configuration")
	cmd.Flags().Int64("base-seed", 0, "Override the starting seed for replications")
	cmd.Flags().Int64("topo-seed", 0, "Override the single topology seed")
	cmd.Flags().Bool("antithetic", false, "Run replications as antithetic pairs")
	cmd.Flags().Bool("verbose", false, "Pass the simulator's verbose flag to every job")
	cmd.Flags().String("resume", "", "Resume an existing batch root, skipping jobs already recorded as succeeded")
	cmd.Flags().Bool("dry-run", false, "Print the job list without executing")

	return cmd
}
