package sweep

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/damiano-salvaterra/SPE-project/internal/config"
	"github.com/damiano-salvaterra/SPE-project/internal/ledger"
	"github.com/damiano-salvaterra/SPE-project/internal/logging"
)

// Runner executes a single job synchronously. The real implementation shells
// out to the external simulator; tests substitute a recording double.
type Runner interface {
	Run(ctx context.Context, job JobSpec) error
}

// Progress is the accumulator threaded through the orchestration loop.
// All indices are 1-based when non-zero.
type Progress struct {
	ConfigIndex      int // configuration currently running
	ConfigTotal      int
	Replication      int // replication within the current configuration
	ReplicationTotal int
	Completed        int // jobs completed successfully during this run
	Skipped          int // jobs skipped because the ledger records success
}

// Result summarizes a finished (or aborted) sweep.
type Result struct {
	BatchRoot string
	Total     int
	Completed int
	Skipped   int
}

// Options control a single Execute call.
type Options struct {
	// Resume names an existing batch root to reopen. Jobs the ledger records
	// as succeeded are skipped; everything else re-runs in plan order.
	Resume string
}

// Orchestrator drives the sequential, fail-fast execution of a sweep plan.
type Orchestrator struct {
	cfg    *config.SweepConfig
	runner Runner
	log    *slog.Logger
	out    io.Writer
	now    func() time.Time
}

// New creates an orchestrator. Progress and report lines are written to out.
func New(cfg *config.SweepConfig, r Runner, log *slog.Logger, out io.Writer) *Orchestrator {
	if out == nil {
		out = os.Stdout
	}
	return &Orchestrator{
		cfg:    cfg,
		runner: r,
		log:    log,
		out:    out,
		now:    time.Now,
	}
}

// WithClock overrides the orchestrator's clock. Used by tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Execute runs the whole sweep: plan, create the batch root, then run every
// job in enumeration order. The first job failure aborts the remaining sweep
// and is returned as the error; partial results stay on disk. Cancellation
// of ctx is observed between jobs only.
func (o *Orchestrator) Execute(ctx context.Context, opts Options) (Result, error) {
	jobs := Plan(o.cfg)
	total := len(jobs)

	root, err := o.resolveBatchRoot(opts)
	if err != nil {
		return Result{}, err
	}
	res := Result{BatchRoot: root, Total: total}

	led, err := ledger.Open(root)
	if err != nil {
		return res, err
	}
	defer led.Close()

	if err := led.InitBatch(o.now(), o.cfg.Digest(), ledgerJobs(jobs)); err != nil {
		return res, err
	}

	done := map[int]bool{}
	if opts.Resume != "" {
		done, err = led.Succeeded()
		if err != nil {
			return res, err
		}
	}

	events := logging.NewEventLog(root, o.cfg.Logging.Level)
	defer events.Close()

	prog := Progress{
		ConfigTotal:      TotalConfigs(o.cfg),
		ReplicationTotal: o.cfg.Replication.Count,
	}
	o.printBanner(root, total, prog)

	currentConfig := -1
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			res.Completed, res.Skipped = prog.Completed, prog.Skipped
			return res, fmt.Errorf("sweep interrupted before job %d/%d: %w", job.Index+1, total, err)
		}

		job.OutDir = filepath.Join(root, job.RelDir())

		if job.ConfigIndex != currentConfig {
			currentConfig = job.ConfigIndex
			prog.ConfigIndex = job.ConfigIndex + 1
			if err := o.enterConfig(job, prog); err != nil {
				res.Completed, res.Skipped = prog.Completed, prog.Skipped
				return res, err
			}
		}

		prog.Replication = job.Replication + 1
		fmt.Fprintf(o.out, "  [%d/%d] seed=%d\n", prog.Replication, prog.ReplicationTotal, job.Seed)

		if done[job.Index] {
			prog.Skipped++
			o.log.Info("job already succeeded, skipping", "job", job.String())
			events.Log(map[string]any{"event": "job_skipped", "index": job.Index, "seed": job.Seed})
			continue
		}

		if err := o.runJob(ctx, job, led, events); err != nil {
			res.Completed, res.Skipped = prog.Completed, prog.Skipped
			return res, err
		}
		prog.Completed++
	}

	res.Completed, res.Skipped = prog.Completed, prog.Skipped
	o.printReport(res)
	return res, nil
}

// resolveBatchRoot picks (and creates) the batch root directory: either the
// resumed root, or a fresh root stamped with the sweep's start time.
func (o *Orchestrator) resolveBatchRoot(opts Options) (string, error) {
	if opts.Resume != "" {
		info, err := os.Stat(opts.Resume)
		if err != nil {
			return "", fmt.Errorf("cannot resume batch: %w", err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("cannot resume batch: %s is not a directory", opts.Resume)
		}
		return opts.Resume, nil
	}

	stamp := o.now().Format("2006-01-02_15-04-05")
	root := filepath.Join(o.cfg.Simulator.OutputRoot, "batch_"+stamp)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("creating batch root %s: %w", root, err)
	}
	return root, nil
}

// enterConfig prepares a configuration's output directory before its first
// job runs: idempotent creation plus a parameters snapshot.
func (o *Orchestrator) enterConfig(job JobSpec, prog Progress) error {
	if err := os.MkdirAll(job.OutDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", job.OutDir, err)
	}
	if err := o.writeParametersLog(job); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "[%d/%d] %s\n", prog.ConfigIndex, prog.ConfigTotal, job.RelDir())
	return nil
}

func (o *Orchestrator) runJob(ctx context.Context, job JobSpec, led *ledger.Ledger, events *logging.EventLog) error {
	if err := led.MarkStarted(job.Index, o.now()); err != nil {
		return err
	}
	events.Log(map[string]any{"event": "job_start", "index": job.Index, "seed": job.Seed, "out_dir": job.OutDir})
	o.log.Debug("starting job", "job", job.String(), "out_dir", job.OutDir)

	if err := o.runner.Run(ctx, job); err != nil {
		if lerr := led.MarkFinished(job.Index, false, o.now()); lerr != nil {
			o.log.Error("failed to record job failure", "error", lerr)
		}
		events.Log(map[string]any{"event": "job_failed", "index": job.Index, "seed": job.Seed})
		o.log.Error("job failed, aborting sweep", "job", job.String())
		return fmt.Errorf("sweep aborted at job %d (%s): %w", job.Index+1, job.String(), err)
	}

	if err := led.MarkFinished(job.Index, true, o.now()); err != nil {
		return err
	}
	events.Log(map[string]any{"event": "job_succeeded", "index": job.Index, "seed": job.Seed})
	return nil
}

// parametersLog is the resolved-parameters snapshot written into each
// configuration directory.
type parametersLog struct {
	App         string                   `yaml:"app"`
	Topology    string                   `yaml:"topology"`
	Channel     string                   `yaml:"channel"`
	Params      config.FixedParams       `yaml:"params"`
	ClusterTree *config.ClusterTreeParams `yaml:"cluster_tree,omitempty"`
	Replication config.ReplicationConfig `yaml:"replication"`
}

func (o *Orchestrator) writeParametersLog(job JobSpec) error {
	entry := parametersLog{
		App:         job.App,
		Topology:    job.Topology,
		Channel:     job.Channel,
		Params:      o.cfg.Params,
		Replication: o.cfg.Replication,
	}
	if job.Topology == "cluster-tree" {
		ct := o.cfg.ClusterTree
		entry.ClusterTree = &ct
	}

	data, err := yaml.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling parameters log: %w", err)
	}
	path := filepath.Join(job.OutDir, "parameters.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing parameters log: %w", err)
	}
	return nil
}

func (o *Orchestrator) printBanner(root string, total int, prog Progress) {
	fmt.Fprintf(o.out, "=== Simulation sweep ===\n")
	fmt.Fprintf(o.out, "Batch root: %s\n", root)
	fmt.Fprintf(o.out, "Configurations: %d  Replications per config: %d  Total jobs: %d\n",
		prog.ConfigTotal, prog.ReplicationTotal, total)
	fmt.Fprintf(o.out, "Base seed: %d  Topology seed: %d\n",
		o.cfg.Replication.BaseSeed, o.cfg.Replication.TopoSeed)
	if o.cfg.Replication.Antithetic {
		fmt.Fprintf(o.out, "Antithetic mode: %d pairs\n", o.cfg.Replication.Count/2)
	}
}

func (o *Orchestrator) printReport(res Result) {
	fmt.Fprintf(o.out, "\nSweep completed: %d/%d jobs succeeded", res.Completed+res.Skipped, res.Total)
	if res.Skipped > 0 {
		fmt.Fprintf(o.out, " (%d resumed from ledger)", res.Skipped)
	}
	fmt.Fprintf(o.out, "\nResults: %s\n", res.BatchRoot)
}

func ledgerJobs(jobs []JobSpec) []ledger.Job {
	out := make([]ledger.Job, len(jobs))
	for i, j := range jobs {
		out[i] = ledger.Job{
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
	return out
}
