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

package main

// bio-pipeline plans and submits one stage of a per-patient compute pipeline
// to a batch scheduler. It builds the whole job graph synchronously, submits
// each job with its dependency edges, and exits; it never waits for backend
// jobs to finish. Jobs that later fail on the backend do not affect this
// process's exit code — recovery is re-invocation with -resume Y.

import (
	"fmt"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/pipeline/config"
	"github.com/grailbio/pipeline/jobgraph"
	"github.com/grailbio/pipeline/marker"
	"github.com/grailbio/pipeline/plan"
	"github.com/grailbio/pipeline/runcontext"
	"github.com/grailbio/pipeline/scheduler"
	"github.com/grailbio/pipeline/step"
	"v.io/x/lib/cmdline"
)

func newCmdRun() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "run",
		Short: "Plan and submit the pipeline for every configured patient",
	}
	toolConfig := cmd.Flags.String("tool-config", "", "Tool configuration YAML path (required)")
	sampleConfig := cmd.Flags.String("sample-config", "", "Sample configuration YAML path (required)")
	outputDir := cmd.Flags.String("output-dir", "", "Override the tool config's output_dir")
	resume := cmd.Flags.String("resume", "", "Y/N: skip steps whose outputs are verified complete; overrides the tool config")
	dryRun := cmd.Flags.String("dry-run", "", "Y/N: plan and write scripts but queue nothing; overrides the tool config")
	local := cmd.Flags.Bool("local", false, "Execute jobs synchronously on this machine instead of submitting to the batch system")
	upstream := cmd.Flags.String("upstream-job", "", "Job id from a prior stage to chain the first job of every sample onto")
	downstream := cmd.Flags.String("downstream-config", "", "Write a sample config enumerating produced artifacts to this path, for the next stage")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("run takes no positional arguments, but got %v", argv)
		}
		if *toolConfig == "" || *sampleConfig == "" {
			return fmt.Errorf("-tool-config and -sample-config are required")
		}
		cfg, err := config.LoadTool(*toolConfig)
		if err != nil {
			return err
		}
		samples, err := config.LoadSamples(*sampleConfig)
		if err != nil {
			return err
		}
		if *outputDir != "" {
			cfg.OutputDir = *outputDir
		}
		if err := overrideYN(&cfg.Resume, *resume); err != nil {
			return fmt.Errorf("-resume: %v", err)
		}
		if err := overrideYN(&cfg.DryRun, *dryRun); err != nil {
			return fmt.Errorf("-dry-run: %v", err)
		}
		rc, err := runcontext.Resolve(cfg.OutputDir, cfg.Resume, cfg.DryRun, cfg.DeleteIntermediates)
		if err != nil {
			return err
		}
		var driver scheduler.Driver
		switch {
		case cfg.DryRun:
			driver = scheduler.DryRun{}
		case *local:
			driver = scheduler.NewLocal()
		default:
			driver = &scheduler.Slurm{}
		}
		ctx := vcontext.Background()
		g, err := plan.Run(ctx, plan.Options{
			Tool:             cfg,
			Samples:          samples,
			Run:              rc,
			FS:               marker.NewFS(),
			Driver:           driver,
			Upstream:         scheduler.JobID(*upstream),
			DownstreamConfig: *downstream,
		})
		if err != nil {
			return err
		}
		submitted, skipped := 0, 0
		for _, job := range g.Jobs() {
			switch job.Status {
			case jobgraph.Submitted:
				submitted++
			case jobgraph.Skipped:
				skipped++
			}
		}
		log.Printf("run directory: %s", rc.RunDir)
		log.Printf("%d jobs submitted, %d steps skipped", submitted, skipped)
		return nil
	})
	return cmd
}

func newCmdRender() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "render",
		Short:    "Print the command text for one step kind, for inspection",
		ArgsName: "{align,markdup,call} input output",
	}
	reference := cmd.Flags.String("reference", "ref.fa", "Reference FASTA path")
	threads := cmd.Flags.Int("threads", 1, "Thread count to render")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 3 {
			return fmt.Errorf("render takes a step kind, an input and an output, but got %v", argv)
		}
		var kind step.Kind
		switch argv[0] {
		case "align":
			kind = step.Align
		case "markdup":
			kind = step.MarkDup
		case "call":
			kind = step.Call
		default:
			return fmt.Errorf("unknown step kind %q", argv[0])
		}
		text, err := step.Render(kind, step.Params{
			Reference: *reference,
			Input:     argv[1],
			Output:    argv[2],
			TempDir:   "/tmp",
			Threads:   *threads,
		})
		if err != nil {
			return err
		}
		fmt.Fprint(env.Stdout, text)
		return nil
	})
	return cmd
}

func overrideYN(dst *bool, flag string) error {
	if flag == "" {
		return nil
	}
	v, err := config.ParseYN(flag)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func main() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(&cmdline.Command{
		Name:     "bio-pipeline",
		Short:    "Per-patient pipeline orchestration on a batch scheduler",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdRun(),
			newCmdRender(),
		},
	})
}
