// Package cleanup builds the runtime-guarded deletion script for a patient's
// intermediate artifacts.
//
// Dependency wiring already guarantees the cleanup job runs after every
// producing job, but a producing job may have been submitted and then failed
// on the backend, which the orchestrator cannot observe. The script is the
// second, independent guard: it deletes nothing unless every declared final
// output exists and is non-empty at execution time. Checksum sidecars are
// deliberately left in place so a later resume still recognizes the deleted
// intermediates as complete.
package cleanup

import (
	"fmt"
	"strings"
)

// Script returns shell text that deletes intermediates only if every final
// output exists and is non-empty, and otherwise emits a warning and deletes
// nothing. With no intermediates declared the script is a no-op.
func Script(finalOutputs, intermediates []string) string {
	var b strings.Builder
	b.WriteString("ok=1\n")
	for _, f := range finalOutputs {
		fmt.Fprintf(&b, "if [ ! -s %s ]; then\n", shellQuote(f))
		fmt.Fprintf(&b, "  echo \"WARNING: final output missing or empty: %s\" >&2\n", f)
		b.WriteString("  ok=0\n")
		b.WriteString("fi\n")
	}
	b.WriteString("if [ \"$ok\" -eq 1 ]; then\n")
	for _, p := range intermediates {
		fmt.Fprintf(&b, "  rm -f %s\n", shellQuote(p))
	}
	b.WriteString("else\n")
	b.WriteString("  echo \"WARNING: cleanup skipped, intermediates kept\" >&2\n")
	b.WriteString("fi\n")
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}
