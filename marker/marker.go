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

// Package marker implements artifact completion markers and the resume gate.
//
// An artifact is only considered complete when its checksum sidecar exists:
// the sidecar is written after the producing tool exits successfully, so a raw
// output file without one is a truncated leftover from a killed job and must
// be regenerated.
package marker

import (
	"bufio"
	"context"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// SidecarSuffix is appended to an artifact path to name its checksum sidecar.
const SidecarSuffix = ".md5"

// Marker pairs a declared output artifact with its checksum sidecar. The
// sidecar's presence is the sole proof of complete prior execution.
type Marker struct {
	Artifact string
	Sidecar  string
}

// For returns the Marker for an artifact path.
func For(artifact string) Marker {
	return Marker{Artifact: artifact, Sidecar: artifact + SidecarSuffix}
}

// Disposition is the planning-time decision for one step.
type Disposition int

const (
	// Run means the step must be (re)executed.
	Run Disposition = iota
	// Skip means a verified-complete output already exists.
	Skip
)

func (d Disposition) String() string {
	if d == Skip {
		return "skip"
	}
	return "run"
}

// FS is the filesystem capability the planner needs. Planning logic is
// written against this interface so it can be tested without touching a real
// filesystem.
type FS interface {
	// Exists reports whether path exists.
	Exists(ctx context.Context, path string) bool
	// ReadChecksum returns the checksum recorded in a sidecar file.
	ReadChecksum(ctx context.Context, path string) (string, error)
	// WriteMarker records a checksum in a sidecar file.
	WriteMarker(ctx context.Context, path, checksum string) error
}

// ShouldRun is the resume gate: Skip iff resume is enabled and the sidecar for
// the declared artifact exists. Mere existence of the raw output is never
// trusted.
func ShouldRun(ctx context.Context, fs FS, m Marker, resume bool) Disposition {
	if resume && fs.Exists(ctx, m.Sidecar) {
		return Skip
	}
	return Run
}

// NewFS returns the real filesystem, backed by grailbio/base/file so that
// artifact paths may name local files or any registered remote
// implementation.
func NewFS() FS {
	return fileFS{}
}

type fileFS struct{}

func (fileFS) Exists(ctx context.Context, path string) bool {
	_, err := file.Stat(ctx, path)
	return err == nil
}

func (fileFS) ReadChecksum(ctx context.Context, path string) (string, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return "", errors.E(err, "reading checksum sidecar", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	scanner := bufio.NewScanner(in.Reader(ctx))
	if !scanner.Scan() {
		return "", errors.E("empty checksum sidecar", path)
	}
	// md5sum output is "<hex>  <path>"; only the first field matters.
	fields := strings.Fields(scanner.Text())
	if len(fields) == 0 {
		return "", errors.E("malformed checksum sidecar", path)
	}
	return fields[0], nil
}

func (f fileFS) WriteMarker(ctx context.Context, path, checksum string) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "creating checksum sidecar", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := bufio.NewWriter(out.Writer(ctx))
	if _, err = w.WriteString(checksum + "\n"); err != nil {
		return err
	}
	return w.Flush()
}
