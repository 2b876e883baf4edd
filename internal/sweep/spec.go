// Package sweep implements the batch sweep plan and its sequential,
// fail-fast execution against an injected job runner.
package sweep

import (
	"fmt"
	"path/filepath"

	"github.com/damiano-salvaterra/SPE-project/internal/config"
)

// JobSpec is one concrete job: a dimension combination, a replication index,
// and the seed derived from it. The seed is a pure function of the base seed
// and the replication index, so every configuration replays the same seed
// sequence.
type JobSpec struct {
	// Index is the 0-based position of the job in enumeration order.
	Index int

	// ConfigIndex is the 0-based position of the job's configuration in the
	// configuration enumeration (app outermost, then topology, then channel).
	ConfigIndex int

	App      string
	Topology string
	Channel  string
	NumNodes int

	// Replication is the 0-based replication index within the configuration.
	Replication int

	// Seed is the simulation seed for this job.
	Seed int64

	// Antithetic marks the second job of an antithetic pair. Such a job
	// shares its Seed with the preceding job.
	Antithetic bool

	// OutDir is the configuration's output directory, resolved once a batch
	// root is known. Empty in a bare plan.
	OutDir string
}

// ConfigName returns the configuration's directory name,
// "<topology>_<channel>_<N>nodes".
func (j JobSpec) ConfigName() string {
	return fmt.Sprintf("%s_%s_%dnodes", j.Topology, j.Channel, j.NumNodes)
}

// RelDir returns the configuration directory path relative to the batch
// root: "<app>/<topology>_<channel>_<N>nodes".
func (j JobSpec) RelDir() string {
	return filepath.Join(j.App, j.ConfigName())
}

// String identifies the job for diagnostics.
func (j JobSpec) String() string {
	return fmt.Sprintf("app=%s topology=%s channel=%s replication=%d seed=%d", j.App, j.Topology, j.Channel, j.Replication, j.Seed)
}

// TotalConfigs returns the number of configurations in the sweep.
func TotalConfigs(cfg *config.SweepConfig) int {
	return len(cfg.Sweep.Apps) * len(cfg.Sweep.Topologies) * len(cfg.Sweep.Channels)
}

// TotalJobs returns the total job count: configurations times replications.
func TotalJobs(cfg *config.SweepConfig) int {
	return TotalConfigs(cfg) * cfg.Replication.Count
}

// Plan expands the configured dimension lists into the ordered job list.
// Enumeration is nested iteration in declaration order, app outermost, then
// topology, then channel, with the replication index innermost. The same
// configuration always yields the same ordered list.
func Plan(cfg *config.SweepConfig) []JobSpec {
	jobs := make([]JobSpec, 0, TotalJobs(cfg))

	configIndex := 0
	for _, app := range cfg.Sweep.Apps {
		for _, topo := range cfg.Sweep.Topologies {
			for _, chn := range cfg.Sweep.Channels {
				for i := 0; i < cfg.Replication.Count; i++ {
					jobs = append(jobs, JobSpec{
						Index:       len(jobs),
						ConfigIndex: configIndex,
						App:         app,
						Topology:    topo,
						Channel:     chn,
						NumNodes:    cfg.Params.NumNodes,
						Replication: i,
						Seed:        seedFor(cfg.Replication, i),
						Antithetic:  cfg.Replication.Antithetic && i%2 == 1,
					})
				}
				configIndex++
			}
		}
	}

	return jobs
}

// seedFor derives the seed for replication i. In standard mode it is
// base+i. In antithetic mode replications run as pairs sharing base+pair,
// where pair = i/2; the odd member of each pair runs the antithetic variate.
func seedFor(r config.ReplicationConfig, i int) int64 {
	if r.Antithetic {
		return r.BaseSeed + int64(i/2)
	}
	return r.BaseSeed + int64(i)
}
