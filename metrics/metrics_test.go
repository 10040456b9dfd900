package metrics_test

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/pipeline/config"
	"github.com/grailbio/pipeline/jobgraph"
	"github.com/grailbio/pipeline/marker"
	"github.com/grailbio/pipeline/metrics"
	"github.com/grailbio/pipeline/scheduler"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

type fakeDriver struct {
	n    int
	deps [][]scheduler.JobID
}

func (d *fakeDriver) Submit(ctx context.Context, script string, deps []scheduler.JobID) (scheduler.JobID, error) {
	d.n++
	d.deps = append(d.deps, deps)
	return scheduler.JobID(fmt.Sprintf("%d", d.n)), nil
}

func (d *fakeDriver) ScriptPreamble(name string, r config.Resources, logDir string) string {
	return "# " + name + "\n"
}

func (d *fakeDriver) AccountingCommand(ids []scheduler.JobID, outPath string) string {
	var ss []string
	for _, id := range ids {
		ss = append(ss, string(id))
	}
	return "sacct --jobs=" + strings.Join(ss, ",") + " >> " + outPath + "\n"
}

func TestCollect(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	d := &fakeDriver{}
	g := jobgraph.New(d)

	for i := 0; i < 3; i++ {
		_, err := g.AddStep(ctx, "PD001", "s", fmt.Sprintf("step%d", i),
			filepath.Join(dir, "x.sh"), marker.Run, nil)
		assert.NoError(t, err)
	}

	outPath := filepath.Join(dir, "metrics_001.tsv")
	job, err := metrics.Collect(ctx, g, d, config.Resources{Time: "00:30:00", Mem: "1G", CPUs: 1}, dir, outPath)
	assert.NoError(t, err)

	// The metrics job is the last node and depends on every prior id.
	expect.EQ(t, job.Deps, []scheduler.JobID{"1", "2", "3"})
	jobs := g.Jobs()
	expect.EQ(t, jobs[len(jobs)-1].Name, metrics.JobName)

	script, err := ioutil.ReadFile(filepath.Join(dir, "metrics.sh"))
	assert.NoError(t, err)
	expect.True(t, strings.Contains(string(script), "sacct --jobs=1,2,3"))
	expect.True(t, strings.Contains(string(script), outPath))
}

func TestCollectEmptyRun(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	d := &fakeDriver{}
	g := jobgraph.New(d)

	job, err := metrics.Collect(ctx, g, d, config.Resources{Time: "00:30:00", Mem: "1G", CPUs: 1},
		dir, filepath.Join(dir, "metrics_001.tsv"))
	assert.NoError(t, err)
	expect.EQ(t, len(job.Deps), 0)
	expect.EQ(t, job.Status, jobgraph.Submitted)
}
