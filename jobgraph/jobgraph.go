// Package jobgraph owns the job-graph bookkeeping for one run: every planned
// step becomes a node, dependency edges may only reference jobs submitted
// earlier in the same run (the graph is acyclic by construction), and the
// accumulated id sets are partitioned per patient and globally for fan-in.
//
// The graph lives for one process invocation and performs no concurrency of
// its own: submission is fire-and-forget and ordering is declared through
// dependency ids, never through blocking.
package jobgraph

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/pipeline/marker"
	"github.com/grailbio/pipeline/scheduler"
)

// Status is the lifecycle of a job from this system's point of view.
// Submitted is terminal: completion and failure are owned by the backend and
// are only ever observed indirectly, by the runtime guard in the cleanup
// script.
type Status int

const (
	Planned Status = iota
	Skipped
	Submitted
)

func (s Status) String() string {
	switch s {
	case Skipped:
		return "skipped"
	case Submitted:
		return "submitted"
	}
	return "planned"
}

// Job is one planned instance of a step for one sample or patient. A skipped
// job carries no id; downstream chaining treats the empty id as "no
// dependency".
type Job struct {
	Name    string
	Patient string
	Sample  string
	Script  string
	Status  Status
	ID      scheduler.JobID
	Deps    []scheduler.JobID
}

// Graph accumulates jobs and their ids as planning proceeds. Append-only; not
// safe for concurrent use, which planning (single-threaded by design) never
// needs.
type Graph struct {
	driver    scheduler.Driver
	jobs      []*Job
	byPatient map[string][]scheduler.JobID
	all       []scheduler.JobID
	known     map[scheduler.JobID]bool
}

// New returns an empty Graph submitting through driver.
func New(driver scheduler.Driver) *Graph {
	return &Graph{
		driver:    driver,
		byPatient: map[string][]scheduler.JobID{},
		known:     map[scheduler.JobID]bool{},
	}
}

// AddStep registers a node and, unless disp is Skip, submits it. Empty ids in
// deps are dropped; every remaining dep must have been returned by an earlier
// submission in this run. The returned Job is recorded either way, so the
// graph is a complete account of planning. A submission failure returns the
// error for the caller to scope to its branch.
func (g *Graph) AddStep(ctx context.Context, patient, sample, name, script string,
	disp marker.Disposition, deps []scheduler.JobID) (*Job, error) {
	job := &Job{
		Name:    name,
		Patient: patient,
		Sample:  sample,
		Script:  script,
	}
	for _, d := range deps {
		if d == "" {
			continue
		}
		if !g.known[d] {
			return nil, errors.E(fmt.Sprintf("job %s depends on %s, which was not submitted earlier in this run", name, d))
		}
		job.Deps = append(job.Deps, d)
	}
	g.jobs = append(g.jobs, job)
	if disp == marker.Skip {
		job.Status = Skipped
		return job, nil
	}
	id, err := g.submit(ctx, job)
	if err != nil {
		return nil, err
	}
	job.ID = id
	job.Status = Submitted
	g.known[id] = true
	g.byPatient[patient] = append(g.byPatient[patient], id)
	g.all = append(g.all, id)
	return job, nil
}

func (g *Graph) submit(ctx context.Context, job *Job) (scheduler.JobID, error) {
	id, err := g.driver.Submit(ctx, job.Script, job.Deps)
	if err != nil {
		return "", errors.E(err, "submitting", job.Name)
	}
	if id == "" {
		return "", errors.E("backend returned an empty id for", job.Name)
	}
	if g.known[id] {
		return "", errors.E(fmt.Sprintf("backend returned duplicate id %s for %s", id, job.Name))
	}
	return id, nil
}

// SeedExternal registers an id produced by an earlier pipeline stage so that
// jobs in this run may chain onto it. The id joins no fan-in set: cleanup and
// metrics only ever depend on work produced during this run.
func (g *Graph) SeedExternal(id scheduler.JobID) {
	if id != "" {
		g.known[id] = true
	}
}

// FanIn returns a copy of every id submitted for the patient's jobs so far.
func (g *Graph) FanIn(patient string) []scheduler.JobID {
	return append([]scheduler.JobID(nil), g.byPatient[patient]...)
}

// FanInRun returns a copy of every id submitted during the run so far.
func (g *Graph) FanInRun() []scheduler.JobID {
	return append([]scheduler.JobID(nil), g.all...)
}

// Jobs returns every job registered so far, skipped ones included, in
// planning order.
func (g *Graph) Jobs() []*Job {
	return append([]*Job(nil), g.jobs...)
}
