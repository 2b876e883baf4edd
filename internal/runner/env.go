package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/damiano-salvaterra/SPE-project/internal/config"
)

// Env is the prepared process environment for simulator invocations: the
// resolved interpreter plus environment variable additions.
type Env struct {
	Command string
	Vars    []string
}

// PrepareEnv resolves the simulator interpreter and module search path
// before any job runs. baseDir is the orchestrator's own location; relative
// source roots and virtualenv paths are resolved against it.
//
// A declared-but-absent virtualenv is a fatal startup error: the sweep must
// not start at all in that case.
func PrepareEnv(cfg config.SimulatorConfig, baseDir string) (Env, error) {
	command := cfg.Command

	if cfg.PythonEnv != "" {
		envRoot := cfg.PythonEnv
		if !filepath.IsAbs(envRoot) {
			envRoot = filepath.Join(baseDir, envRoot)
		}
		interp := venvInterpreter(envRoot)
		if _, err := os.Stat(interp); err != nil {
			return Env{}, fmt.Errorf("python environment declared at %s but interpreter %s not found: %w", envRoot, interp, err)
		}
		command = interp
	}

	var vars []string
	if cfg.SourceRoot != "" {
		srcRoot := cfg.SourceRoot
		if !filepath.IsAbs(srcRoot) {
			srcRoot = filepath.Join(baseDir, srcRoot)
		}
		vars = append(vars, "PYTHONPATH="+prependPath(srcRoot, os.Getenv("PYTHONPATH")))
	}

	return Env{Command: command, Vars: vars}, nil
}

// BaseDir returns the directory containing the orchestrator executable,
// falling back to the working directory when the executable path cannot be
// determined.
func BaseDir() string {
	exe, err := os.Executable()
	if err == nil {
		return filepath.Dir(exe)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func venvInterpreter(envRoot string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(envRoot, "Scripts", "python.exe")
	}
	return filepath.Join(envRoot, "bin", "python")
}

func prependPath(entry, existing string) string {
	if existing == "" {
		return entry
	}
	return entry + string(os.PathListSeparator) + existing
}
