package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// newTestRootCmd mirrors the root command wiring in main so subcommands run
// with the persistent flags they expect.
func newTestRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{Use: "sweep", SilenceUsage: true}
	rootCmd.PersistentFlags().Bool("json", false, "")
	rootCmd.PersistentFlags().String("config", "", "")
	rootCmd.AddCommand(
		newVersionCmd(),
		newPlanCmd(),
		newRunCmd(),
	)
	return rootCmd
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newTestRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeTestConfig writes a small sweep configuration and returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	content := `sweep:
  apps: [poisson]
  topologies: [ring, random]
  channels: [stable, lossy]
replication:
  count: 3
  base_seed: 100
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "sweep version") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := runCommand(t, "version", "--json")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("invalid JSON output %q: %v", out, err)
	}
	if v["version"] == "" {
		t.Errorf("missing version field in %q", out)
	}
}

func TestPlanCommand(t *testing.T) {
	out, err := runCommand(t, "plan", "--config", writeTestConfig(t))
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	if !strings.Contains(out, "Configurations: 4  Replications per config: 3  Total jobs: 12") {
		t.Errorf("missing totals line in output:\n%s", out)
	}
	// First and last job lines, 1-based.
	if !strings.Contains(out, "seed=100") || !strings.Contains(out, "seed=102") {
		t.Errorf("missing seed range in output:\n%s", out)
	}
	if !strings.Contains(out, filepath.Join("poisson", "random_lossy_20nodes")) {
		t.Errorf("missing configuration directory in output:\n%s", out)
	}
}

func TestPlanCommandJSON(t *testing.T) {
	out, err := runCommand(t, "plan", "--config", writeTestConfig(t), "--json")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	var plan struct {
		Jobs []struct {
			Index    int    `json:"index"`
			App      string `json:"app"`
			Topology string `json:"topology"`
			Seed     int64  `json:"seed"`
		} `json:"jobs"`
		Configurations int `json:"configurations"`
		Total          int `json:"total"`
	}
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if plan.Total != 12 || plan.Configurations != 4 || len(plan.Jobs) != 12 {
		t.Errorf("unexpected plan totals: %+v", plan)
	}
	if plan.Jobs[0].Topology != "ring" || plan.Jobs[0].Seed != 100 {
		t.Errorf("unexpected first job: %+v", plan.Jobs[0])
	}
}

func TestPlanCommandInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	if err := os.WriteFile(path, []byte("sweep:\n  apps: [teleport]\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := runCommand(t, "plan", "--config", path)
	if err == nil {
		t.Fatal("expected validation error for unknown app")
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunDryRun(t *testing.T) {
	out, err := runCommand(t, "run", "--config", writeTestConfig(t), "--dry-run")
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !strings.Contains(out, "Total jobs: 12") {
		t.Errorf("dry run should print the plan:\n%s", out)
	}
}

func TestRunDryRunFlagOverrides(t *testing.T) {
	out, err := runCommand(t, "run", "--config", writeTestConfig(t), "--dry-run",
		"--replications", "4", "--base-seed", "500")
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !strings.Contains(out, "Total jobs: 16") {
		t.Errorf("replications override not applied:\n%s", out)
	}
	if !strings.Contains(out, "seed=503") {
		t.Errorf("base seed override not applied:\n%s", out)
	}
}

func TestRunDryRunRejectsOddAntithetic(t *testing.T) {
	_, err := runCommand(t, "run", "--config", writeTestConfig(t), "--dry-run", "--antithetic")
	if err == nil {
		t.Fatal("expected validation error for odd antithetic count")
	}
}

func TestRunMissingVenvIsFatalBeforeStart(t *testing.T) {
	outputRoot := t.TempDir()
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	content := `sweep:
  apps: [poisson]
  topologies: [ring]
  channels: [stable]
replication:
  count: 1
simulator:
  command: python3
  python_env: ` + filepath.Join(t.TempDir(), "no-such-venv") + `
  output_root: ` + outputRoot + `
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := runCommand(t, "run", "--config", path)
	if err == nil {
		t.Fatal("expected missing virtualenv to abort the run")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected error: %v", err)
	}

	// No batch root may be created when preflight fails.
	entries, readErr := os.ReadDir(outputRoot)
	if readErr != nil {
		t.Fatalf("failed to read output root: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("preflight failure must not create batch roots, found %v", entries)
	}
}
