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

// Package runcontext resolves the on-disk layout for one orchestrator
// invocation: a timestamped run directory with output/log/tmp substructure,
// either freshly created or rediscovered when resuming. Any directory that
// cannot be created aborts the invocation before a single job is queued.
package runcontext

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/grailbio/base/errors"
)

const runDirPrefix = "run-"

// timeNow is swapped out in tests.
var timeNow = time.Now

// RunContext is the resolved directory layout plus the global run flags.
// Read-only after Resolve, apart from the directory-creation side effects that
// happen during Resolve itself.
type RunContext struct {
	// Root is the requested output root under which timestamped run
	// directories live.
	Root string
	// RunDir is the timestamped directory for this run.
	RunDir string
	// OutputDir holds per-patient artifact subdirectories.
	OutputDir string
	// LogDir holds job scripts, scheduler logs and metrics files.
	LogDir string
	// TempDir holds scratch space handed to tools.
	TempDir string
	// FinalDir is the stable, non-timestamped location for symlinks to
	// final artifacts.
	FinalDir string
	// MetricsPath is the accounting output file for this attempt, with a
	// numeric suffix chosen so that reinvocations against the same run
	// directory do not clobber each other. The (empty) file exists by the
	// time Resolve returns; the accounting job appends to it.
	MetricsPath string

	Resume              bool
	DryRun              bool
	DeleteIntermediates bool
}

// Resolve builds the RunContext for one invocation. With resume false a new
// timestamped run directory tree is created under root; with resume true the
// most recent existing run directory is located and reused. Both paths also
// claim the metrics file for this attempt, creating it empty.
func Resolve(root string, resume, dryRun, deleteIntermediates bool) (*RunContext, error) {
	rc := &RunContext{
		Root:                root,
		Resume:              resume,
		DryRun:              dryRun,
		DeleteIntermediates: deleteIntermediates,
	}
	if resume {
		runDir, err := latestRunDir(root)
		if err != nil {
			return nil, err
		}
		rc.RunDir = runDir
	} else {
		rc.RunDir = filepath.Join(root, runDirPrefix+timeNow().Format("20060102-150405"))
	}
	rc.OutputDir = filepath.Join(rc.RunDir, "output")
	rc.LogDir = filepath.Join(rc.RunDir, "log")
	rc.TempDir = filepath.Join(rc.RunDir, "tmp")
	rc.FinalDir = filepath.Join(root, "final")
	for _, dir := range []string{rc.OutputDir, rc.LogDir, rc.TempDir, rc.FinalDir} {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return nil, errors.E(err, "creating run directory", dir)
		}
	}
	metricsPath, err := nextMetricsPath(rc.LogDir)
	if err != nil {
		return nil, err
	}
	rc.MetricsPath = metricsPath
	return rc, nil
}

// latestRunDir returns the lexically greatest run-* directory under root,
// which for the fixed timestamp format is also the most recent.
func latestRunDir(root string) (string, error) {
	infos, err := ioutil.ReadDir(root)
	if err != nil {
		return "", errors.E(err, "locating run directory to resume under", root)
	}
	latest := ""
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		name := info.Name()
		if len(name) <= len(runDirPrefix) || name[:len(runDirPrefix)] != runDirPrefix {
			continue
		}
		if name > latest {
			latest = name
		}
	}
	if latest == "" {
		return "", errors.E(fmt.Sprintf("resume requested but no %s* directory exists under %s", runDirPrefix, root))
	}
	return filepath.Join(root, latest), nil
}

var metricsRE = regexp.MustCompile(`^metrics_(\d+)\.tsv$`)

// nextMetricsPath scans logDir for existing metrics files, picks the next
// unused numeric suffix and claims it by creating the file. The accounting
// job only runs much later on the backend, so the scan alone would let two
// back-to-back invocations pick the same name; O_EXCL creation makes the
// claim stick, bumping the suffix on collision.
func nextMetricsPath(logDir string) (string, error) {
	infos, err := ioutil.ReadDir(logDir)
	if err != nil {
		return "", errors.E(err, "scanning for metrics files in", logDir)
	}
	next := 1
	for _, info := range infos {
		m := metricsRE.FindStringSubmatch(info.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n >= next {
			next = n + 1
		}
	}
	for {
		path := filepath.Join(logDir, fmt.Sprintf("metrics_%03d.tsv", next))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			if err := f.Close(); err != nil {
				return "", errors.E(err, "claiming metrics file", path)
			}
			return path, nil
		}
		if !os.IsExist(err) {
			return "", errors.E(err, "claiming metrics file", path)
		}
		next++
	}
}

// PatientOutputDir returns (creating it if needed) the artifact directory for
// one patient.
func (rc *RunContext) PatientOutputDir(patient string) (string, error) {
	dir := filepath.Join(rc.OutputDir, patient)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", errors.E(err, "creating patient output directory", dir)
	}
	return dir, nil
}

// PatientFinalDir returns (creating it if needed) the stable symlink directory
// for one patient.
func (rc *RunContext) PatientFinalDir(patient string) (string, error) {
	dir := filepath.Join(rc.FinalDir, patient)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", errors.E(err, "creating patient final directory", dir)
	}
	return dir, nil
}
