package scheduler

import (
	"context"
	"fmt"
	"io/ioutil"
	"os/exec"

	"github.com/grailbio/pipeline/config"
	"github.com/pkg/errors"
)

// Local executes each job synchronously at submission time, for small inputs
// and for exercising pipelines on machines without a batch system. Because
// submission order already respects the dependency chain, running jobs inline
// preserves the same ordering guarantees the real backend provides.
type Local struct {
	n int
}

// NewLocal returns a Local driver.
func NewLocal() *Local {
	return &Local{}
}

// Submit runs the script to completion and returns a synthetic id. The
// script's combined output is written next to it with a .log suffix.
func (l *Local) Submit(ctx context.Context, scriptPath string, deps []JobID) (JobID, error) {
	out, err := exec.CommandContext(ctx, "bash", scriptPath).CombinedOutput()
	if werr := ioutil.WriteFile(scriptPath+".log", out, 0644); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return "", errors.Wrapf(err, "local run of %s", scriptPath)
	}
	l.n++
	return JobID(fmt.Sprintf("local-%d", l.n)), nil
}

// ScriptPreamble returns a comment noting the job runs locally; there is no
// resource enforcement to direct.
func (l *Local) ScriptPreamble(name string, r config.Resources, logDir string) string {
	return fmt.Sprintf("# local execution: %s (requested %s, %s, %d cpus)\n",
		name, r.Time, r.Mem, r.CPUs)
}

// AccountingCommand has no accounting daemon to query; the metrics file
// records that explicitly rather than staying silently absent.
func (l *Local) AccountingCommand(ids []JobID, outPath string) string {
	return fmt.Sprintf("echo 'accounting unavailable for locally executed jobs (%d run)' >> %s\n",
		len(filterDeps(ids)), outPath)
}
