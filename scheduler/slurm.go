package scheduler

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/grailbio/pipeline/config"
	"github.com/pkg/errors"
)

// sacctFormat is the column set appended to the per-run metrics file.
const sacctFormat = "JobID,JobName,State,Elapsed,TotalCPU,MaxRSS,ReqMem,ExitCode"

// Slurm submits jobs through sbatch and reads accounting through sacct.
// Dependency edges use afterok, so a job only starts once every prerequisite
// has finished successfully; a backend configured to weaken afterok to
// submission-order would void the ordering guarantee the planner relies on.
type Slurm struct {
	// Sbatch and Sacct override the binary paths, for tests. Empty means
	// the bare command name, resolved via PATH.
	Sbatch string
	Sacct  string
}

func (s *Slurm) sbatch() string {
	if s.Sbatch != "" {
		return s.Sbatch
	}
	return "sbatch"
}

func (s *Slurm) sacct() string {
	if s.Sacct != "" {
		return s.Sacct
	}
	return "sacct"
}

// Submit queues scriptPath with --dependency=afterok edges and returns the id
// printed by sbatch --parsable.
func (s *Slurm) Submit(ctx context.Context, scriptPath string, deps []JobID) (JobID, error) {
	args := []string{"--parsable"}
	if d := joinIDs(deps, ":"); d != "" {
		args = append(args, "--dependency=afterok:"+d)
	}
	args = append(args, scriptPath)
	out, err := exec.CommandContext(ctx, s.sbatch(), args...).Output()
	if err != nil {
		return "", errors.Wrapf(err, "sbatch %s", scriptPath)
	}
	// --parsable prints "<jobid>" or "<jobid>;<cluster>".
	id := strings.TrimSpace(string(out))
	if i := strings.IndexByte(id, ';'); i >= 0 {
		id = id[:i]
	}
	if id == "" {
		return "", errors.Errorf("sbatch %s: no job id in output %q", scriptPath, out)
	}
	return JobID(id), nil
}

// ScriptPreamble renders #SBATCH directives for the step's resource request,
// routing scheduler output under logDir.
func (s *Slurm) ScriptPreamble(name string, r config.Resources, logDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", name)
	fmt.Fprintf(&b, "#SBATCH --time=%s\n", r.Time)
	fmt.Fprintf(&b, "#SBATCH --mem=%s\n", r.Mem)
	fmt.Fprintf(&b, "#SBATCH --cpus-per-task=%d\n", r.CPUs)
	fmt.Fprintf(&b, "#SBATCH --output=%s\n", filepath.Join(logDir, name+".%j.out"))
	return b.String()
}

// AccountingCommand renders the sacct invocation the metrics job runs.
func (s *Slurm) AccountingCommand(ids []JobID, outPath string) string {
	joined := joinIDs(ids, ",")
	if joined == "" {
		return fmt.Sprintf("echo 'no jobs were submitted in this run' >> %s\n", outPath)
	}
	return fmt.Sprintf("%s --jobs=%s --format=%s --parsable2 >> %s\n",
		s.sacct(), joined, sacctFormat, outPath)
}
