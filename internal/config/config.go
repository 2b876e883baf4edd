// Package config provides unified configuration loading for the sweep
// orchestrator. It supports loading from YAML files and environment variables.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Known dimension values, in declaration order. Sweep configurations may
// list any subset of these; anything else is a validation error.
var (
	KnownApps       = []string{"poisson", "pingpong"}
	KnownTopologies = []string{"linear", "ring", "grid", "random", "star", "cluster-tree"}
	KnownChannels   = []string{"ideal", "stable", "stable_mid_pl", "stable_high_pl", "lossy", "unstable"}
)

// SweepConfig contains all orchestrator configuration settings.
type SweepConfig struct {
	// Sweep lists the dimension values to enumerate. Iteration order is the
	// declared order of each list, never sorted.
	Sweep DimensionsConfig `json:"sweep" yaml:"sweep"`

	// Params holds the fixed scalar parameters passed to every job.
	Params FixedParams `json:"params" yaml:"params"`

	// ClusterTree holds shape parameters consumed only when the topology is
	// the hierarchical cluster-tree variant.
	ClusterTree ClusterTreeParams `json:"cluster_tree" yaml:"cluster_tree"`

	// Replication controls seeding and the per-configuration run count.
	Replication ReplicationConfig `json:"replication" yaml:"replication"`

	// Simulator describes how to invoke the external simulator.
	Simulator SimulatorConfig `json:"simulator" yaml:"simulator"`

	// Logging contains settings for operational logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// DimensionsConfig lists the swept dimension values.
type DimensionsConfig struct {
	Apps       []string `json:"apps" yaml:"apps"`
	Topologies []string `json:"topologies" yaml:"topologies"`
	Channels   []string `json:"channels" yaml:"channels"`
}

// FixedParams are the scalar parameters shared by every job in the sweep.
type FixedParams struct {
	// NumNodes is the node count, also encoded into configuration directory names.
	NumNodes int `json:"num_nodes" yaml:"num_nodes"`

	// TxPower is the nodes' transmission power in dBm.
	TxPower float64 `json:"tx_power" yaml:"tx_power"`

	// SimTime is the total simulated duration in seconds.
	SimTime float64 `json:"sim_time" yaml:"sim_time"`

	// AppDelay is the delay before workload traffic starts, in seconds.
	AppDelay float64 `json:"app_delay" yaml:"app_delay"`

	// MeanInterarrival is the mean inter-arrival time for stochastic-traffic
	// workloads, in seconds.
	MeanInterarrival float64 `json:"mean_interarrival" yaml:"mean_interarrival"`

	// DSpaceStep is the spatial discretization step in meters.
	DSpaceStep float64 `json:"dspace_step" yaml:"dspace_step"`
}

// ClusterTreeParams shape the hierarchical cluster-tree topology.
type ClusterTreeParams struct {
	TreeDepth       int     `json:"tree_depth" yaml:"tree_depth"`
	BranchingFactor int     `json:"branching_factor" yaml:"branching_factor"`
	NodesPerCluster int     `json:"nodes_per_cluster" yaml:"nodes_per_cluster"`
	ClusterRadius   float64 `json:"cluster_radius" yaml:"cluster_radius"`
	NodeRadius      float64 `json:"node_radius" yaml:"node_radius"`
}

// ReplicationConfig controls Monte Carlo replication and seeding.
type ReplicationConfig struct {
	// Count is the number of replications per configuration.
	Count int `json:"count" yaml:"count"`

	// BaseSeed is the starting seed; replication i runs with BaseSeed+i.
	// Every configuration replays the same seed sequence, enabling
	// seed-matched comparison across configurations.
	BaseSeed int64 `json:"base_seed" yaml:"base_seed"`

	// TopoSeed is the single seed used for all stochastic topology
	// generations across the whole sweep.
	TopoSeed int64 `json:"topo_seed" yaml:"topo_seed"`

	// Antithetic runs Count replications as Count/2 antithetic pairs.
	// Requires an even Count.
	Antithetic bool `json:"antithetic" yaml:"antithetic"`
}

// SimulatorConfig describes the external simulator invocation.
type SimulatorConfig struct {
	// Command is the interpreter or binary to invoke. Ignored when PythonEnv
	// is set, in which case the environment's interpreter is used.
	Command string `json:"command" yaml:"command"`

	// Module is the simulator entry module, passed as `-m Module`. When
	// empty, Command is invoked directly with the job flags.
	Module string `json:"module,omitempty" yaml:"module,omitempty"`

	// PythonEnv is an optional virtualenv root. When set, the interpreter is
	// resolved inside it and its absence is a fatal startup error.
	PythonEnv string `json:"python_env,omitempty" yaml:"python_env,omitempty"`

	// SourceRoot is the module search path extension, resolved relative to
	// the orchestrator's own location unless absolute.
	SourceRoot string `json:"source_root" yaml:"source_root"`

	// OutputRoot is the directory under which timestamped batch roots are
	// created.
	OutputRoot string `json:"output_root" yaml:"output_root"`

	// Verbose passes the simulator's verbose flag to every job.
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// LoggingConfig configures operational logging.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default) or "debug".
	// "debug" additionally records job events to <batch root>/events.jsonl.
	Level string `json:"level" yaml:"level"`
}

// Default returns a SweepConfig with the documented defaults.
func Default() *SweepConfig {
	return &SweepConfig{
		Sweep: DimensionsConfig{
			Apps:       []string{"poisson"},
			Topologies: []string{"random"},
			Channels:   []string{"stable"},
		},
		Params: FixedParams{
			NumNodes:         20,
			TxPower:          10.0,
			SimTime:          1800.0,
			AppDelay:         130.0,
			MeanInterarrival: 30.0,
			DSpaceStep:       1.0,
		},
		ClusterTree: ClusterTreeParams{
			TreeDepth:       2,
			BranchingFactor: 3,
			NodesPerCluster: 6,
			ClusterRadius:   100.0,
			NodeRadius:      30.0,
		},
		Replication: ReplicationConfig{
			Count:      100,
			BaseSeed:   12345,
			TopoSeed:   42,
			Antithetic: false,
		},
		Simulator: SimulatorConfig{
			Command:    "python3",
			Module:     "src.experiments.run_simulation",
			SourceRoot: "src",
			OutputRoot: "results",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from path (when non-empty) over the defaults,
// then applies environment variable overrides.
func Load(path string) (*SweepConfig, error) {
	config := Default()

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*SweepConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *SweepConfig) Validate() error {
	if err := validateDimension("apps", c.Sweep.Apps, KnownApps); err != nil {
		return err
	}
	if err := validateDimension("topologies", c.Sweep.Topologies, KnownTopologies); err != nil {
		return err
	}
	if err := validateDimension("channels", c.Sweep.Channels, KnownChannels); err != nil {
		return err
	}

	if c.Params.NumNodes < 1 {
		return fmt.Errorf("num_nodes must be at least 1, got %d", c.Params.NumNodes)
	}
	if c.Params.SimTime <= 0 {
		return fmt.Errorf("sim_time must be positive, got %g", c.Params.SimTime)
	}
	if c.Params.AppDelay < 0 {
		return fmt.Errorf("app_delay must be non-negative, got %g", c.Params.AppDelay)
	}
	if c.Params.MeanInterarrival <= 0 {
		return fmt.Errorf("mean_interarrival must be positive, got %g", c.Params.MeanInterarrival)
	}
	if c.Params.DSpaceStep <= 0 {
		return fmt.Errorf("dspace_step must be positive, got %g", c.Params.DSpaceStep)
	}

	if c.Replication.Count < 1 {
		return fmt.Errorf("replication count must be at least 1, got %d", c.Replication.Count)
	}
	if c.Replication.Antithetic && c.Replication.Count%2 != 0 {
		return fmt.Errorf("antithetic mode requires an even replication count, got %d", c.Replication.Count)
	}

	if contains(c.Sweep.Topologies, "cluster-tree") {
		ct := c.ClusterTree
		if ct.TreeDepth < 1 || ct.BranchingFactor < 1 || ct.NodesPerCluster < 1 {
			return fmt.Errorf("cluster-tree shape parameters must be at least 1 (depth=%d, branching=%d, nodes_per_cluster=%d)",
				ct.TreeDepth, ct.BranchingFactor, ct.NodesPerCluster)
		}
		if ct.ClusterRadius <= 0 || ct.NodeRadius <= 0 {
			return fmt.Errorf("cluster-tree radii must be positive (cluster=%g, node=%g)", ct.ClusterRadius, ct.NodeRadius)
		}
	}

	if c.Simulator.Command == "" && c.Simulator.PythonEnv == "" {
		return fmt.Errorf("simulator command is required")
	}
	if c.Simulator.OutputRoot == "" {
		return fmt.Errorf("output_root is required")
	}

	validLevels := map[string]bool{"info": true, "debug": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, or empty for default)", c.Logging.Level)
	}

	return nil
}

// Digest returns a stable hash of the configuration, used to detect plan
// mismatches when resuming a batch.
func (c *SweepConfig) Digest() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func validateDimension(name string, values, known []string) error {
	if len(values) == 0 {
		return fmt.Errorf("dimension %s must not be empty", name)
	}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			return fmt.Errorf("dimension %s contains duplicate value %q", name, v)
		}
		seen[v] = true
		if !contains(known, v) {
			return fmt.Errorf("dimension %s contains unknown value %q (valid: %v)", name, v, known)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *SweepConfig) {
	if v := os.Getenv("SWEEP_REPLICATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Replication.Count = n
		}
	}

	if v := os.Getenv("SWEEP_BASE_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Replication.BaseSeed = n
		}
	}

	if v := os.Getenv("SWEEP_TOPO_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Replication.TopoSeed = n
		}
	}

	if v := os.Getenv("SWEEP_OUTPUT_ROOT"); v != "" {
		config.Simulator.OutputRoot = v
	}

	if v := os.Getenv("SWEEP_PYTHON_ENV"); v != "" {
		config.Simulator.PythonEnv = v
	}

	if v := os.Getenv("SWEEP_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}
