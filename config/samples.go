package config

import (
	"fmt"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	yaml "gopkg.in/yaml.v3"
)

// Role distinguishes tumour from matched-normal samples. The role decides
// which step templates apply to a sample.
type Role string

const (
	Normal Role = "normal"
	Tumour Role = "tumour"
)

// Sample is one biological specimen: an input artifact plus its role within a
// patient. Immutable for the duration of a run.
type Sample struct {
	ID      string
	Patient string
	Role    Role
	// Input is the path of the starting artifact for this sample, typically
	// produced by a prior pipeline stage.
	Input string
}

// Patient owns the set of samples planned together. Cleanup and fan-in are
// always scoped to one patient.
type Patient struct {
	ID      string
	Samples []Sample
}

// SampleSet is the full, validated sample configuration for a run. Patients
// and samples are held in sorted order so planning is deterministic.
type SampleSet struct {
	Patients []Patient
}

// LoadSamples reads and validates a SampleSet from a YAML file of the form
//
//	PD001:
//	  normal:
//	    PD001-N: /path/PD001-N.cram
//	  tumour:
//	    PD001-T: /path/PD001-T.cram
func LoadSamples(path string) (*SampleSet, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.E(err, "reading sample config", path)
	}
	return ParseSamples(data)
}

// ParseSamples parses and validates SampleSet YAML content.
func ParseSamples(data []byte) (*SampleSet, error) {
	var raw map[string]map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.E(err, "parsing sample config")
	}
	var violations []string
	set := &SampleSet{}
	patientIDs := make([]string, 0, len(raw))
	for id := range raw {
		patientIDs = append(patientIDs, id)
	}
	sort.Strings(patientIDs)
	for _, pid := range patientIDs {
		patient := Patient{ID: pid}
		// Normals sort before tumours within a patient; the order is
		// cosmetic since no cross-sample edges exist, but it keeps job
		// scripts and logs stable between invocations.
		for _, role := range []Role{Normal, Tumour} {
			byID := raw[pid][string(role)]
			sampleIDs := make([]string, 0, len(byID))
			for id := range byID {
				sampleIDs = append(sampleIDs, id)
			}
			sort.Strings(sampleIDs)
			for _, sid := range sampleIDs {
				input := byID[sid]
				if input == "" {
					violations = append(violations,
						fmt.Sprintf("%s/%s/%s: input path is required", pid, role, sid))
				}
				patient.Samples = append(patient.Samples, Sample{
					ID:      sid,
					Patient: pid,
					Role:    role,
					Input:   input,
				})
			}
		}
		for role := range raw[pid] {
			if Role(role) != Normal && Role(role) != Tumour {
				violations = append(violations,
					fmt.Sprintf("%s: unknown role %q (want normal or tumour)", pid, role))
			}
		}
		if len(patient.Samples) == 0 {
			violations = append(violations, fmt.Sprintf("%s: no samples", pid))
		}
		set.Patients = append(set.Patients, patient)
	}
	if len(set.Patients) == 0 {
		violations = append(violations, "no patients")
	}
	if len(violations) > 0 {
		sort.Strings(violations)
		return nil, errors.E("invalid sample config:\n  " + strings.Join(violations, "\n  "))
	}
	return set, nil
}
