package step

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/pipeline/marker"
)

// Params is the typed parameter bag for rendering one step invocation.
type Params struct {
	// Reference is the reference FASTA path.
	Reference string
	// Input is the artifact consumed by this step.
	Input string
	// Output is the artifact this step declares to produce.
	Output string
	// TempDir is scratch space handed to the tool.
	TempDir string
	// Modules are the fully qualified environment modules to load,
	// e.g. "bwa/0.7.17".
	Modules []string
	// Threads is the core count matching the scheduler request.
	Threads int
}

// Render returns the shell command text for one step invocation, without the
// script shebang or scheduler directives (those are assembled at planning
// time). The text runs under `set -euo pipefail` and emits the checksum
// sidecar as its final command, so the sidecar only ever exists if the wrapped
// tool finished successfully; marker creation is atomic with job success.
func Render(k Kind, p Params) (string, error) {
	if p.Input == "" || p.Output == "" {
		return "", errors.E(fmt.Sprintf("render %s: input and output are required", k))
	}
	if p.Threads <= 0 {
		p.Threads = 1
	}
	body, err := renderBody(k, p)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("set -euo pipefail\n\n")
	for _, m := range p.Modules {
		fmt.Fprintf(&b, "module load %s\n", m)
	}
	if len(p.Modules) > 0 {
		b.WriteString("\n")
	}
	b.WriteString(body)
	fmt.Fprintf(&b, "md5sum %s > %s\n", shellQuote(p.Output), shellQuote(p.Output+marker.SidecarSuffix))
	return b.String(), nil
}

func renderBody(k Kind, p Params) (string, error) {
	ref := shellQuote(p.Reference)
	in := shellQuote(p.Input)
	out := shellQuote(p.Output)
	tmp := shellQuote(p.TempDir)
	switch k {
	case Align:
		if p.Reference == "" {
			return "", errors.E("render align: reference is required")
		}
		return fmt.Sprintf("bwa mem -t %d %s %s \\\n  | samtools sort -@ %d -T %s -o %s -\n",
			p.Threads, ref, in, p.Threads, tmp, out), nil
	case MarkDup:
		return fmt.Sprintf("samtools markdup -@ %d -T %s %s %s\n",
			p.Threads, tmp, in, out), nil
	case Call:
		if p.Reference == "" {
			return "", errors.E("render call: reference is required")
		}
		return fmt.Sprintf("bcftools mpileup -f %s %s \\\n  | bcftools call -mv -Oz -o %s\n",
			ref, in, out), nil
	}
	return "", errors.E(fmt.Sprintf("render: unknown step kind %d", int(k)))
}

// shellQuote single-quotes a path for safe interpolation into shell text.
func shellQuote(s string) string {
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}
