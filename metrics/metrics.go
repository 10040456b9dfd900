// Package metrics builds the terminal accounting job for a run: one command
// that queries the scheduler's accounting interface for every job id produced
// during the run and appends the rows to the attempt's metrics file.
package metrics

import (
	"context"
	"path/filepath"

	"github.com/grailbio/pipeline/config"
	"github.com/grailbio/pipeline/jobgraph"
	"github.com/grailbio/pipeline/marker"
	"github.com/grailbio/pipeline/scheduler"
)

// JobName names the accounting job and its script.
const JobName = "metrics"

// Script returns the command body for the accounting job over ids, appending
// rows to outPath. The backend supplies its own accounting invocation.
func Script(d scheduler.Driver, ids []scheduler.JobID, outPath string) string {
	return "set -euo pipefail\n\n" + d.AccountingCommand(ids, outPath)
}

// Collect writes the accounting job script and submits it depending on every
// id accumulated in the graph, making it the last node of the run. The job
// always has disposition Run: accounting rows are per-attempt, never resumed
// away.
func Collect(ctx context.Context, g *jobgraph.Graph, d scheduler.Driver,
	r config.Resources, logDir, outPath string) (*jobgraph.Job, error) {
	ids := g.FanInRun()
	script := filepath.Join(logDir, JobName+".sh")
	if err := scheduler.WriteScript(script, d.ScriptPreamble(JobName, r, logDir), Script(d, ids, outPath)); err != nil {
		return nil, err
	}
	return g.AddStep(ctx, "", "", JobName, script, marker.Run, ids)
}
