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

// Package scheduler abstracts the batch-system backend jobs are submitted
// through. The orchestrator is fire-and-forget: it never polls for completion,
// it only declares dependency edges at submission time. Three backends exist:
// Slurm, a local synchronous shim, and a dry-run shim that queues nothing.
package scheduler

import (
	"context"
	"strings"

	"github.com/grailbio/pipeline/config"
)

// JobID is an opaque scheduler-assigned job identifier. The empty JobID is
// valid in dependency lists and means "no dependency": a skipped step is
// transparent to the chain, not a broken link.
type JobID string

// Driver is the narrow interface the orchestration core consumes.
type Driver interface {
	// Submit queues the script with the given dependency edges and returns
	// the assigned id. Empty ids in deps are ignored.
	Submit(ctx context.Context, scriptPath string, deps []JobID) (JobID, error)
	// ScriptPreamble returns backend directive lines (resource requests,
	// job name, log destination) to embed at the top of a job script.
	ScriptPreamble(name string, r config.Resources, logDir string) string
	// AccountingCommand returns shell text that queries the backend's
	// accounting records for ids and appends the rows to outPath.
	AccountingCommand(ids []JobID, outPath string) string
}

// filterDeps drops empty ids and returns the rest as strings.
func filterDeps(deps []JobID) []string {
	var out []string
	for _, d := range deps {
		if d != "" {
			out = append(out, string(d))
		}
	}
	return out
}

func joinIDs(ids []JobID, sep string) string {
	return strings.Join(filterDeps(ids), sep)
}
