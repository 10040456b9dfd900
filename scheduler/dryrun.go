package scheduler

import (
	"context"
	"fmt"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/pipeline/config"
)

// DryRun queues nothing. Submit returns a stable, non-empty placeholder id
// derived from the script path, so every dependency-chaining operation
// downstream still sees well-formed ids and two dry runs of the same plan
// produce identical output.
type DryRun struct{}

// Submit returns the placeholder id for scriptPath without contacting any
// backend.
func (DryRun) Submit(ctx context.Context, scriptPath string, deps []JobID) (JobID, error) {
	return JobID(fmt.Sprintf("dry-%016x", seahash.Sum64([]byte(scriptPath)))), nil
}

// ScriptPreamble mirrors the Slurm directives so a dry run produces the same
// scripts a real submission would.
func (DryRun) ScriptPreamble(name string, r config.Resources, logDir string) string {
	return (&Slurm{}).ScriptPreamble(name, r, logDir)
}

// AccountingCommand mirrors the Slurm accounting invocation; the job carrying
// it is never queued.
func (DryRun) AccountingCommand(ids []JobID, outPath string) string {
	return (&Slurm{}).AccountingCommand(ids, outPath)
}
