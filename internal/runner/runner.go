// Package runner invokes the external simulator, one synchronous subprocess
// per job, and maps its exit status to an error.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/damiano-salvaterra/SPE-project/internal/config"
	"github.com/damiano-salvaterra/SPE-project/internal/sweep"
)

// JobError reports a simulator process that exited non-zero.
type JobError struct {
	Job      sweep.JobSpec
	ExitCode int
	LogPath  string
	Err      error
}

func (e *JobError) Error() string {
	msg := fmt.Sprintf("simulator failed (%s, exit %d)", e.Job.String(), e.ExitCode)
	if e.LogPath != "" {
		msg += ": see " + e.LogPath
	}
	return msg
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Simulator runs the external simulator program. It implements sweep.Runner.
type Simulator struct {
	// Command is the resolved interpreter or binary.
	Command string

	// ExtraEnv entries are appended to the inherited process environment.
	ExtraEnv []string

	// Cfg supplies the fixed parameters shared by every invocation.
	Cfg *config.SweepConfig
}

// NewSimulator builds a Simulator from a prepared environment.
func NewSimulator(cfg *config.SweepConfig, env Env) *Simulator {
	return &Simulator{
		Command:  env.Command,
		ExtraEnv: env.Vars,
		Cfg:      cfg,
	}
}

// Run executes one job and blocks until the simulator terminates. Combined
// output is captured to a per-job log file inside the job's output
// directory. A non-zero exit status is returned as a *JobError; the
// orchestrator treats any error as fatal for the whole sweep.
func (s *Simulator) Run(ctx context.Context, job sweep.JobSpec) error {
	args := s.buildArgs(job)

	cmd := exec.CommandContext(ctx, s.Command, args...)
	cmd.Env = append(os.Environ(), s.ExtraEnv...)

	output, err := cmd.CombinedOutput()

	logPath := filepath.Join(job.OutDir, fmt.Sprintf("run_r%03d_seed%d.log", job.Replication, job.Seed))
	logErr := os.WriteFile(logPath, output, 0o644)

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if logErr != nil {
			logPath = ""
		}
		return &JobError{Job: job, ExitCode: exitCode, LogPath: logPath, Err: err}
	}
	if logErr != nil {
		return fmt.Errorf("writing job log %s: %w", logPath, logErr)
	}
	return nil
}

// buildArgs assembles the simulator's flag vector for one job. Cluster-tree
// shape flags are only passed for the cluster-tree topology; the antithetic
// and verbose switches go last.
func (s *Simulator) buildArgs(job sweep.JobSpec) []string {
	p := s.Cfg.Params
	r := s.Cfg.Replication

	var args []string
	if s.Cfg.Simulator.Module != "" {
		args = append(args, "-m", s.Cfg.Simulator.Module)
	}

	args = append(args,
		"--app", job.App,
		"--topology", job.Topology,
		"--channel", job.Channel,
		"--num_nodes", strconv.Itoa(job.NumNodes),
		"--tx_power", formatFloat(p.TxPower),
		"--sim_time", formatFloat(p.SimTime),
		"--sim_seed", strconv.FormatInt(job.Seed, 10),
		"--topo_seed", strconv.FormatInt(r.TopoSeed, 10),
		"--app_delay", formatFloat(p.AppDelay),
		"--mean_interarrival", formatFloat(p.MeanInterarrival),
		"--dspace_step", formatFloat(p.DSpaceStep),
		"--out_dir", job.OutDir,
	)

	if job.Topology == "cluster-tree" {
		ct := s.Cfg.ClusterTree
		args = append(args,
			"--tree_depth", strconv.Itoa(ct.TreeDepth),
			"--branching_factor", strconv.Itoa(ct.BranchingFactor),
			"--nodes_per_cluster", strconv.Itoa(ct.NodesPerCluster),
			"--cluster_radius", formatFloat(ct.ClusterRadius),
			"--node_radius", formatFloat(ct.NodeRadius),
		)
	}

	if job.Antithetic {
		args = append(args, "--antithetic")
	}
	if s.Cfg.Simulator.Verbose {
		args = append(args, "--verbose")
	}

	return args
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
