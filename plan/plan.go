// Copyright 2019 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package plan drives job-graph construction for one run: per-patient and
// per-sample fan-out, strict sequential chaining within each sample, gated
// per-patient cleanup, and the run-level metrics fan-in. Planning is
// synchronous and single-threaded; all actual concurrency lives in the
// backend, which is free to run independent sample and patient branches in
// parallel because no cross-sample or cross-patient edges are ever declared.
package plan

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/pipeline/cleanup"
	"github.com/grailbio/pipeline/config"
	"github.com/grailbio/pipeline/jobgraph"
	"github.com/grailbio/pipeline/marker"
	"github.com/grailbio/pipeline/metrics"
	"github.com/grailbio/pipeline/runcontext"
	"github.com/grailbio/pipeline/scheduler"
	"github.com/grailbio/pipeline/step"
	yaml "gopkg.in/yaml.v3"
)

// utilityResources is the request for cleanup and metrics jobs when the tool
// config does not override it. Both are trivial shell jobs.
var utilityResources = config.Resources{Time: "00:30:00", Mem: "1G", CPUs: 1}

// Options carries everything one Run needs. All fields except Pipeline,
// Upstream and DownstreamConfig are required.
type Options struct {
	Tool    *config.ToolConfig
	Samples *config.SampleSet
	Run     *runcontext.RunContext
	FS      marker.FS
	Driver  scheduler.Driver
	// Pipeline defaults to step.DefaultPipeline().
	Pipeline []step.Step
	// Upstream chains the first job of every sample onto a job id from a
	// prior pipeline stage.
	Upstream scheduler.JobID
	// DownstreamConfig, when set, is where a sample-config YAML enumerating
	// the produced final artifacts is written for the next stage.
	DownstreamConfig string
}

// Run plans and submits the whole job graph. Configuration, directory and
// missing-input errors abort before or without further submission; a
// submission failure abandons only that sample's remaining chain. The
// returned graph is complete even when branches were abandoned.
func Run(ctx context.Context, opts Options) (*jobgraph.Graph, error) {
	pipeline := opts.Pipeline
	if pipeline == nil {
		pipeline = step.DefaultPipeline()
	}
	if err := validate(ctx, opts, pipeline); err != nil {
		return nil, err
	}

	g := jobgraph.New(opts.Driver)
	g.SeedExternal(opts.Upstream)
	produced := map[string]map[string]map[string]string{}
	for _, patient := range opts.Samples.Patients {
		finals, err := planPatient(ctx, g, opts, pipeline, patient, produced)
		if err != nil {
			return nil, err.Err
		}
		log.Printf("%s: expected final outputs:", patient.ID)
		for _, f := range finals {
			log.Printf("  %s", f)
		}
	}

	r := resourcesOr(opts.Tool, metrics.JobName)
	if _, err := metrics.Collect(ctx, g, opts.Driver, r, opts.Run.LogDir, opts.Run.MetricsPath); err != nil {
		// Accounting is best-effort; compute jobs are already queued.
		log.Error.Printf("metrics job not submitted: %v", err)
	}

	if opts.DownstreamConfig != "" {
		if err := writeDownstreamConfig(opts.DownstreamConfig, produced); err != nil {
			log.Error.Printf("downstream config not written: %v", err)
		}
	}
	return g, nil
}

// validate fails with the complete list of configuration violations, and
// checks that every sample's input artifact is present, all before a single
// job is queued.
func validate(ctx context.Context, opts Options, pipeline []step.Step) error {
	var violations []string
	for _, st := range pipeline {
		if _, err := opts.Tool.StepResources(st.Name); err != nil {
			violations = append(violations, err.Error())
		}
	}
	if len(violations) > 0 {
		sort.Strings(violations)
		return errors.E("invalid run configuration:\n  " + strings.Join(violations, "\n  "))
	}
	var samples []config.Sample
	for _, p := range opts.Samples.Patients {
		samples = append(samples, p.Samples...)
	}
	return traverse.Each(len(samples), func(i int) error {
		s := samples[i]
		if !opts.FS.Exists(ctx, s.Input) {
			return errors.E(fmt.Sprintf("missing upstream artifact for %s/%s: %s", s.Patient, s.ID, s.Input))
		}
		return nil
	})
}

// planPatient plans every sample of one patient, then the patient's cleanup
// job and final-artifact symlinks. Only run-scoped errors are returned;
// branch failures are logged and the remaining samples proceed.
func planPatient(ctx context.Context, g *jobgraph.Graph, opts Options, pipeline []step.Step,
	patient config.Patient, produced map[string]map[string]map[string]string) ([]string, *Error) {
	outDir, err := opts.Run.PatientOutputDir(patient.ID)
	if err != nil {
		return nil, runErr(err)
	}
	var finals, intermediates []string
	for _, sample := range patient.Samples {
		out, perr := planSample(ctx, g, opts, pipeline, outDir, sample)
		if perr != nil {
			if perr.Scope == ScopeRun {
				return nil, perr
			}
			log.Error.Printf("%s/%s: abandoning remaining steps: %v", patient.ID, sample.ID, perr.Err)
			continue
		}
		finals = append(finals, out.finals...)
		intermediates = append(intermediates, out.intermediates...)
		if out.last != "" {
			byRole, ok := produced[patient.ID]
			if !ok {
				byRole = map[string]map[string]string{}
				produced[patient.ID] = byRole
			}
			if byRole[string(sample.Role)] == nil {
				byRole[string(sample.Role)] = map[string]string{}
			}
			byRole[string(sample.Role)][sample.ID] = out.last
		}
	}
	if opts.Run.DeleteIntermediates && len(intermediates) > 0 {
		if err := planCleanup(ctx, g, opts, patient.ID, finals, intermediates); err != nil {
			log.Error.Printf("%s: cleanup job not submitted, intermediates kept: %v", patient.ID, err)
		}
	}
	linkFinals(opts.Run, patient.ID, finals)
	return finals, nil
}

// sampleOutputs is what one sample's planned chain declares to produce.
type sampleOutputs struct {
	finals        []string
	intermediates []string
	// last is the output of the sample's final applicable step, handed to
	// the next pipeline stage.
	last string
}

// planSample chains the applicable steps of one sample strictly sequentially:
// each step's job id is the sole dependency of the next. A skipped step
// contributes an empty id, which downstream submission treats as no
// dependency.
func planSample(ctx context.Context, g *jobgraph.Graph, opts Options, pipeline []step.Step,
	outDir string, sample config.Sample) (sampleOutputs, *Error) {
	var out sampleOutputs
	rc := opts.Run
	prev := opts.Upstream
	input := sample.Input
	for _, st := range pipeline {
		if !st.AppliesTo(sample.Role) {
			continue
		}
		output := filepath.Join(outDir, sample.ID+st.Suffix)
		disp := marker.ShouldRun(ctx, opts.FS, marker.For(output), rc.Resume)
		jobName := st.Name + "_" + sample.ID
		script := filepath.Join(rc.LogDir, jobName+".sh")
		if disp == marker.Run {
			r, err := opts.Tool.StepResources(st.Name)
			if err != nil {
				return out, runErr(err) // unreachable: validated up front
			}
			var modules []string
			for _, tool := range st.Tools {
				modules = append(modules, opts.Tool.ModuleVersion(tool))
			}
			body, err := step.Render(st.Kind, step.Params{
				Reference: opts.Tool.Reference,
				Input:     input,
				Output:    output,
				TempDir:   rc.TempDir,
				Modules:   modules,
				Threads:   r.CPUs,
			})
			if err != nil {
				return out, runErr(err)
			}
			if err := scheduler.WriteScript(script, opts.Driver.ScriptPreamble(jobName, r, rc.LogDir), body); err != nil {
				return out, runErr(err)
			}
		} else {
			log.Printf("%s/%s: %s output verified complete, skipping", sample.Patient, sample.ID, st.Name)
		}
		job, err := g.AddStep(ctx, sample.Patient, sample.ID, jobName, script, disp, []scheduler.JobID{prev})
		if err != nil {
			return out, branchErr(err)
		}
		prev = job.ID
		input = output
		if st.Intermediate {
			out.intermediates = append(out.intermediates, output)
		} else {
			out.finals = append(out.finals, output)
		}
		out.last = output
	}
	return out, nil
}

// planCleanup submits the patient's gated deletion job, wired to every job id
// produced for the patient so it runs last; the script's runtime check on the
// final outputs is what actually authorizes deletion.
func planCleanup(ctx context.Context, g *jobgraph.Graph, opts Options,
	patient string, finals, intermediates []string) error {
	jobName := "cleanup_" + patient
	script := filepath.Join(opts.Run.LogDir, jobName+".sh")
	r := resourcesOr(opts.Tool, "cleanup")
	body := "set -u\n\n" + cleanup.Script(finals, intermediates)
	if err := scheduler.WriteScript(script, opts.Driver.ScriptPreamble(jobName, r, opts.Run.LogDir), body); err != nil {
		return err
	}
	_, err := g.AddStep(ctx, patient, "", jobName, script, marker.Run, g.FanIn(patient))
	return err
}

// linkFinals refreshes the stable per-patient symlinks to this run's final
// artifacts. Failures are warnings: the artifacts themselves are unaffected.
func linkFinals(rc *runcontext.RunContext, patient string, finals []string) {
	dir, err := rc.PatientFinalDir(patient)
	if err != nil {
		log.Error.Printf("%s: final symlinks not created: %v", patient, err)
		return
	}
	for _, f := range finals {
		link := filepath.Join(dir, filepath.Base(f))
		if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
			log.Error.Printf("%s: replacing symlink %s: %v", patient, link, err)
			continue
		}
		if err := os.Symlink(f, link); err != nil {
			log.Error.Printf("%s: creating symlink %s: %v", patient, link, err)
		}
	}
}

// writeDownstreamConfig emits a sample-config YAML mapping each patient, role
// and sample to its produced final artifact, in the same shape
// config.ParseSamples reads, for the next pipeline stage.
func writeDownstreamConfig(path string, produced map[string]map[string]map[string]string) error {
	data, err := yaml.Marshal(produced)
	if err != nil {
		return errors.E(err, "marshaling downstream config")
	}
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return errors.E(err, "writing downstream config", path)
	}
	return nil
}

func resourcesOr(cfg *config.ToolConfig, name string) config.Resources {
	if r, err := cfg.StepResources(name); err == nil {
		return r
	}
	return utilityResources
}
