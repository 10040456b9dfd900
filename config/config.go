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

// Package config loads and validates the tool and sample configuration files
// consumed by the pipeline orchestrator. Configuration is read once at startup
// and treated as immutable afterwards. Validation is exhaustive: every
// violation found is reported in a single error, not just the first.
package config

import (
	"fmt"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	yaml "gopkg.in/yaml.v3"
)

// Resources describes the scheduler resource request for one pipeline step.
type Resources struct {
	// Time is the wall-clock limit, in the scheduler's native syntax
	// (e.g. "24:00:00").
	Time string `yaml:"time"`
	// Mem is the memory request (e.g. "32G").
	Mem string `yaml:"mem"`
	// CPUs is the core count.
	CPUs int `yaml:"cpus"`
}

// ToolConfig is the per-run tool configuration: reference paths, environment
// module versions, the output root and the global run flags.
type ToolConfig struct {
	OutputDir string
	Reference string
	Resume    bool
	DryRun    bool
	// DeleteIntermediates enables per-patient cleanup jobs.
	DeleteIntermediates bool
	// Modules maps a tool name to the environment-module version to load,
	// e.g. "bwa" -> "0.7.17".
	Modules map[string]string
	// Resources maps a step name to its scheduler resource request.
	Resources map[string]Resources
}

type rawToolConfig struct {
	OutputDir           string               `yaml:"output_dir"`
	Reference           string               `yaml:"reference"`
	Resume              string               `yaml:"resume"`
	DryRun              string               `yaml:"dry_run"`
	DeleteIntermediates string               `yaml:"delete_intermediates"`
	Modules             map[string]string    `yaml:"modules"`
	Resources           map[string]Resources `yaml:"resources"`
}

// ParseYN parses the "Y"/"N" flag convention used both in the tool config and
// on the command line. Empty means "N".
func ParseYN(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "Y", "YES":
		return true, nil
	case "", "N", "NO":
		return false, nil
	}
	return false, errors.E(fmt.Sprintf("expected Y or N, got %q", s))
}

// LoadTool reads and validates a ToolConfig from a YAML file.
func LoadTool(path string) (*ToolConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.E(err, "reading tool config", path)
	}
	return ParseTool(data)
}

// ParseTool parses and validates ToolConfig YAML content.
func ParseTool(data []byte) (*ToolConfig, error) {
	var raw rawToolConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.E(err, "parsing tool config")
	}
	var violations []string
	addViolation := func(format string, args ...interface{}) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}
	c := &ToolConfig{
		OutputDir: raw.OutputDir,
		Reference: raw.Reference,
		Modules:   raw.Modules,
		Resources: raw.Resources,
	}
	if c.OutputDir == "" {
		addViolation("output_dir is required")
	}
	if c.Reference == "" {
		addViolation("reference is required")
	}
	var err error
	if c.Resume, err = ParseYN(raw.Resume); err != nil {
		addViolation("resume: %v", err)
	}
	if c.DryRun, err = ParseYN(raw.DryRun); err != nil {
		addViolation("dry_run: %v", err)
	}
	if c.DeleteIntermediates, err = ParseYN(raw.DeleteIntermediates); err != nil {
		addViolation("delete_intermediates: %v", err)
	}
	for name, r := range raw.Resources {
		if r.Time == "" {
			addViolation("resources.%s.time is required", name)
		}
		if r.Mem == "" {
			addViolation("resources.%s.mem is required", name)
		}
		if r.CPUs <= 0 {
			addViolation("resources.%s.cpus must be positive", name)
		}
	}
	if len(violations) > 0 {
		sort.Strings(violations)
		return nil, errors.E("invalid tool config:\n  " + strings.Join(violations, "\n  "))
	}
	return c, nil
}

// StepResources returns the resource request for the named step, or an error
// naming the missing entry. A step with no entry is a configuration error, not
// a default: resource limits on shared clusters are deliberate.
func (c *ToolConfig) StepResources(step string) (Resources, error) {
	r, ok := c.Resources[step]
	if !ok {
		return Resources{}, errors.E(fmt.Sprintf("no resources configured for step %q", step))
	}
	return r, nil
}

// ModuleVersion returns the "name/version" environment-module string for a
// tool, or just the name when no version is pinned.
func (c *ToolConfig) ModuleVersion(tool string) string {
	if v, ok := c.Modules[tool]; ok && v != "" {
		return tool + "/" + v
	}
	return tool
}
