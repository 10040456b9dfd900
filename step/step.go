// Package step defines the pipeline step model and renders the shell text for
// each step kind. Rendering is a pure function of its parameters so the same
// inputs always produce byte-identical job scripts.
package step

import (
	"github.com/grailbio/pipeline/config"
)

// Kind tags the command template a step renders.
type Kind int

const (
	// Align maps raw reads against the reference and coordinate-sorts the
	// result.
	Align Kind = iota
	// MarkDup flags PCR and optical duplicates in an aligned BAM.
	MarkDup
	// Call produces a compressed VCF of variant calls from an aligned BAM.
	Call
)

func (k Kind) String() string {
	switch k {
	case Align:
		return "align"
	case MarkDup:
		return "markdup"
	case Call:
		return "call"
	}
	return "unknown"
}

// Step is one templated unit of work within the pipeline. The orchestrator
// never interprets the scientific content of a step; it only renders the
// command, declares the output artifact and wires dependencies.
type Step struct {
	// Name keys the per-step resource request in the tool config and names
	// job scripts. Defaults to Kind.String() in the built-in pipeline.
	Name string
	Kind Kind
	// Roles restricts the step to samples of the listed roles. Empty means
	// the step applies to every sample.
	Roles []config.Role
	// Suffix is appended to the sample ID to name the output artifact.
	Suffix string
	// Tools lists the environment modules the rendered command loads.
	Tools []string
	// Intermediate marks the output as eligible for gated cleanup once the
	// patient's final outputs are verified.
	Intermediate bool
}

// AppliesTo reports whether the step runs for a sample of the given role.
func (s Step) AppliesTo(role config.Role) bool {
	if len(s.Roles) == 0 {
		return true
	}
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DefaultPipeline is the standard per-sample chain: align, duplicate-mark,
// call. Earlier outputs are intermediates; the VCF is the final artifact.
func DefaultPipeline() []Step {
	return []Step{
		{Name: "align", Kind: Align, Suffix: ".bam", Tools: []string{"bwa", "samtools"}, Intermediate: true},
		{Name: "markdup", Kind: MarkDup, Suffix: ".md.bam", Tools: []string{"samtools"}, Intermediate: true},
		{Name: "call", Kind: Call, Suffix: ".vcf.gz", Tools: []string{"bcftools"}},
	}
}
