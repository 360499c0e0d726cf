package shared

import "path/filepath"

// RunArtifactPath returns the sandbox-relative path for a named artifact
// file belonging to proxyID's current pipeline run. All stage artifacts
// for a run live under the same temp/run-<proxyID>/ directory so the
// orchestrator can remove them as one unit once the run finishes.
func RunArtifactPath(proxyID, filename string) string {
	return filepath.Join("temp", "run-"+proxyID, filename)
}

// RunSpillDir returns the sandbox-relative directory an accumulator for
// proxyID's current run should spill into.
func RunSpillDir(proxyID, label string) string {
	return filepath.Join("temp", "run-"+proxyID, "accumulator_spill", label)
}
