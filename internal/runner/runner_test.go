package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/damiano-salvaterra/SPE-project/internal/config"
	"github.com/damiano-salvaterra/SPE-project/internal/sweep"
)

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag {
			if i+1 >= len(args) {
				t.Fatalf("flag %s has no value in %v", flag, args)
			}
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return ""
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func testJob() sweep.JobSpec {
	return sweep.JobSpec{
		Index:       0,
		App:         "poisson",
		Topology:    "ring",
		Channel:     "stable",
		NumNodes:    20,
		Replication: 2,
		Seed:        12347,
		OutDir:      "/tmp/batch/poisson/ring_stable_20nodes",
	}
}

func TestBuildArgs(t *testing.T) {
	cfg := config.Default()
	sim := NewSimulator(cfg, Env{Command: "python3"})

	args := sim.buildArgs(testJob())

	if args[0] != "-m" || args[1] != "src.experiments.run_simulation" {
		t.Errorf("expected module invocation first, got %v", args[:2])
	}

	for flag, want := range map[string]string{
		"--app":               "poisson",
		"--topology":          "ring",
		"--channel":           "stable",
		"--num_nodes":         "20",
		"--tx_power":          "10",
		"--sim_time":          "1800",
		"--sim_seed":          "12347",
		"--topo_seed":         "42",
		"--app_delay":         "130",
		"--mean_interarrival": "30",
		"--dspace_step":       "1",
		"--out_dir":           "/tmp/batch/poisson/ring_stable_20nodes",
	} {
		if got := argValue(t, args, flag); got != want {
			t.Errorf("%s = %q, want %q", flag, got, want)
		}
	}

	for _, flag := range []string{"--tree_depth", "--antithetic", "--verbose"} {
		if hasFlag(args, flag) {
			t.Errorf("unexpected flag %s in %v", flag, args)
		}
	}
}

func TestBuildArgsNoModule(t *testing.T) {
	cfg := config.Default()
	cfg.Simulator.Module = ""
	sim := NewSimulator(cfg, Env{Command: "./simulator"})

	args := sim.buildArgs(testJob())
	if args[0] != "--app" {
		t.Errorf("expected direct invocation, got leading arg %q", args[0])
	}
}

func TestBuildArgsClusterTree(t *testing.T) {
	cfg := config.Default()
	sim := NewSimulator(cfg, Env{Command: "python3"})

	job := testJob()
	job.Topology = "cluster-tree"
	args := sim.buildArgs(job)

	for flag, want := range map[string]string{
		"--tree_depth":        "2",
		"--branching_factor":  "3",
		"--nodes_per_cluster": "6",
		"--cluster_radius":    "100",
		"--node_radius":       "30",
	} {
		if got := argValue(t, args, flag); got != want {
			t.Errorf("%s = %q, want %q", flag, got, want)
		}
	}
}

func TestBuildArgsSwitches(t *testing.T) {
	cfg := config.Default()
	cfg.Simulator.Verbose = true
	sim := NewSimulator(cfg, Env{Command: "python3"})

	job := testJob()
	job.Antithetic = true
	args := sim.buildArgs(job)

	if !hasFlag(args, "--antithetic") {
		t.Errorf("missing --antithetic in %v", args)
	}
	if !hasFlag(args, "--verbose") {
		t.Errorf("missing --verbose in %v", args)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{10.0, "10"},
		{1800.0, "1800"},
		{0.5, "0.5"},
		{130.25, "130.25"},
	}
	for _, tt := range tests {
		if got := formatFloat(tt.in); got != tt.want {
			t.Errorf("formatFloat(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJobErrorMessage(t *testing.T) {
	err := &JobError{Job: testJob(), ExitCode: 7, LogPath: "/tmp/run_r002_seed12347.log"}

	for _, want := range []string{"exit 7", "seed=12347", "topology=ring", "/tmp/run_r002_seed12347.log"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

// writeScript creates an executable shell script standing in for the
// simulator.
func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture requires a POSIX shell")
	}
	path := filepath.Join(dir, "simulator.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestRunCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, `echo "simulation done"`)

	cfg := config.Default()
	cfg.Simulator.Module = ""
	sim := NewSimulator(cfg, Env{Command: script})

	job := testJob()
	job.OutDir = dir
	if err := sim.Run(context.Background(), job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	logPath := filepath.Join(dir, "run_r002_seed12347.log")
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("missing job log: %v", err)
	}
	if !strings.Contains(string(data), "simulation done") {
		t.Errorf("job log missing simulator output: %q", data)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, `echo "boom" >&2; exit 7`)

	cfg := config.Default()
	cfg.Simulator.Module = ""
	sim := NewSimulator(cfg, Env{Command: script})

	job := testJob()
	job.OutDir = dir
	err := sim.Run(context.Background(), job)
	if err == nil {
		t.Fatal("expected job failure")
	}

	var jobErr *JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("expected *JobError, got %T: %v", err, err)
	}
	if jobErr.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", jobErr.ExitCode)
	}

	// Stderr is still captured to the job log.
	data, err := os.ReadFile(jobErr.LogPath)
	if err != nil {
		t.Fatalf("missing job log: %v", err)
	}
	if !strings.Contains(string(data), "boom") {
		t.Errorf("job log missing stderr: %q", data)
	}
}

func TestRunExtraEnv(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, `echo "path=$PYTHONPATH"`)

	cfg := config.Default()
	cfg.Simulator.Module = ""
	sim := NewSimulator(cfg, Env{Command: script, Vars: []string{"PYTHONPATH=/opt/sim/src"}})

	job := testJob()
	job.OutDir = dir
	if err := sim.Run(context.Background(), job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "run_r002_seed12347.log"))
	if err != nil {
		t.Fatalf("missing job log: %v", err)
	}
	if !strings.Contains(string(data), "path=/opt/sim/src") {
		t.Errorf("PYTHONPATH not propagated: %q", data)
	}
}
