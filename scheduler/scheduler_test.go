package scheduler

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/pipeline/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testResources = config.Resources{Time: "01:00:00", Mem: "4G", CPUs: 2}

// fakeSbatch writes a stub sbatch that records its arguments and prints the
// given stdout.
func fakeSbatch(t *testing.T, dir, stdout string) (bin, argsFile string) {
	argsFile = filepath.Join(dir, "sbatch.args")
	bin = filepath.Join(dir, "sbatch")
	script := "#!/bin/bash\necho \"$@\" > " + argsFile + "\necho '" + stdout + "'\n"
	require.NoError(t, ioutil.WriteFile(bin, []byte(script), 0755))
	return bin, argsFile
}

func TestSlurmSubmit(t *testing.T) {
	dir, err := ioutil.TempDir("", "slurm")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck
	bin, argsFile := fakeSbatch(t, dir, "4242;cluster")

	s := &Slurm{Sbatch: bin}
	id, err := s.Submit(context.Background(), "/run/log/align_PD001-N.sh",
		[]JobID{"", "100", "101"})
	require.NoError(t, err)
	assert.Equal(t, JobID("4242"), id)

	args, err := ioutil.ReadFile(argsFile)
	require.NoError(t, err)
	got := strings.TrimSpace(string(args))
	assert.Equal(t, "--parsable --dependency=afterok:100:101 /run/log/align_PD001-N.sh", got)
}

func TestSlurmSubmitNoDeps(t *testing.T) {
	dir, err := ioutil.TempDir("", "slurm")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck
	bin, argsFile := fakeSbatch(t, dir, "17")

	s := &Slurm{Sbatch: bin}
	id, err := s.Submit(context.Background(), "/x.sh", []JobID{""})
	require.NoError(t, err)
	assert.Equal(t, JobID("17"), id)
	args, err := ioutil.ReadFile(argsFile)
	require.NoError(t, err)
	// An all-empty dependency set produces no --dependency flag at all.
	assert.NotContains(t, string(args), "dependency")
}

func TestSlurmSubmitRejected(t *testing.T) {
	dir, err := ioutil.TempDir("", "slurm")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck
	bin := filepath.Join(dir, "sbatch")
	require.NoError(t, ioutil.WriteFile(bin, []byte("#!/bin/bash\nexit 1\n"), 0755))

	s := &Slurm{Sbatch: bin}
	_, err = s.Submit(context.Background(), "/x.sh", nil)
	assert.Error(t, err)
}

func TestSlurmPreambleAndAccounting(t *testing.T) {
	s := &Slurm{}
	pre := s.ScriptPreamble("align_PD001-N", testResources, "/run/log")
	for _, want := range []string{
		"#SBATCH --job-name=align_PD001-N",
		"#SBATCH --time=01:00:00",
		"#SBATCH --mem=4G",
		"#SBATCH --cpus-per-task=2",
		"#SBATCH --output=/run/log/align_PD001-N.%j.out",
	} {
		assert.Contains(t, pre, want)
	}

	acct := s.AccountingCommand([]JobID{"1", "", "2"}, "/run/log/metrics_001.tsv")
	assert.Contains(t, acct, "sacct --jobs=1,2")
	assert.Contains(t, acct, ">> /run/log/metrics_001.tsv")

	empty := s.AccountingCommand(nil, "/m.tsv")
	assert.Contains(t, empty, "no jobs were submitted")
}

func TestDryRunStablePlaceholder(t *testing.T) {
	d := DryRun{}
	a1, err := d.Submit(context.Background(), "/log/align_PD001-N.sh", nil)
	require.NoError(t, err)
	a2, err := d.Submit(context.Background(), "/log/align_PD001-N.sh", []JobID{"dep"})
	require.NoError(t, err)
	b, err := d.Submit(context.Background(), "/log/call_PD001-N.sh", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, a1)
	assert.True(t, strings.HasPrefix(string(a1), "dry-"))
	// Same script, same id; different script, different id.
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
}

func TestLocalSubmitRunsScript(t *testing.T) {
	dir, err := ioutil.TempDir("", "local")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck

	touched := filepath.Join(dir, "touched")
	script := filepath.Join(dir, "job.sh")
	require.NoError(t, ioutil.WriteFile(script,
		[]byte("#!/bin/bash\necho ran\ntouch "+touched+"\n"), 0755))

	l := NewLocal()
	id, err := l.Submit(context.Background(), script, nil)
	require.NoError(t, err)
	assert.Equal(t, JobID("local-1"), id)
	_, err = os.Stat(touched)
	assert.NoError(t, err)
	logged, err := ioutil.ReadFile(script + ".log")
	require.NoError(t, err)
	assert.Contains(t, string(logged), "ran")
}

func TestLocalSubmitFailure(t *testing.T) {
	dir, err := ioutil.TempDir("", "local")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck
	script := filepath.Join(dir, "job.sh")
	require.NoError(t, ioutil.WriteFile(script, []byte("#!/bin/bash\nexit 3\n"), 0755))

	_, err = NewLocal().Submit(context.Background(), script, nil)
	assert.Error(t, err)
}

func TestWriteScript(t *testing.T) {
	dir, err := ioutil.TempDir("", "script")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck

	path := filepath.Join(dir, "job.sh")
	require.NoError(t, WriteScript(path, "#SBATCH --mem=1G\n", "set -euo pipefail\n\necho hi\n"))
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "#!/bin/bash\n#SBATCH --mem=1G\n"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}
