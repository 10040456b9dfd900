package runcontext

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func fixedNow(s string) func() time.Time {
	t, err := time.Parse("20060102-150405", s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func TestResolveFresh(t *testing.T) {
	root, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	defer func(f func() time.Time) { timeNow = f }(timeNow)
	timeNow = fixedNow("20190601-120000")

	rc, err := Resolve(root, false, false, true)
	assert.NoError(t, err)
	expect.EQ(t, rc.RunDir, filepath.Join(root, "run-20190601-120000"))
	for _, dir := range []string{rc.OutputDir, rc.LogDir, rc.TempDir, rc.FinalDir} {
		info, err := os.Stat(dir)
		assert.NoError(t, err)
		expect.True(t, info.IsDir())
	}
	expect.EQ(t, rc.MetricsPath, filepath.Join(rc.LogDir, "metrics_001.tsv"))
	expect.True(t, rc.DeleteIntermediates)
}

func TestResolveFreshFailsOnBadRoot(t *testing.T) {
	root, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	// A file where the run directory should go: creation must fail and
	// abort resolution.
	assert.NoError(t, ioutil.WriteFile(filepath.Join(root, "blocked"), nil, 0644))
	_, err := Resolve(filepath.Join(root, "blocked"), false, false, false)
	expect.True(t, err != nil)
}

func TestResolveResumeFindsLatest(t *testing.T) {
	root, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	defer func(f func() time.Time) { timeNow = f }(timeNow)

	timeNow = fixedNow("20190601-120000")
	_, err := Resolve(root, false, false, false)
	assert.NoError(t, err)
	timeNow = fixedNow("20190602-080000")
	_, err = Resolve(root, false, false, false)
	assert.NoError(t, err)

	rc, err := Resolve(root, true, false, false)
	assert.NoError(t, err)
	expect.EQ(t, rc.RunDir, filepath.Join(root, "run-20190602-080000"))
	expect.True(t, rc.Resume)
}

func TestResolveResumeWithoutRunDir(t *testing.T) {
	root, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	_, err := Resolve(root, true, false, false)
	expect.True(t, err != nil)
}

func TestMetricsSuffixIncreases(t *testing.T) {
	root, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	defer func(f func() time.Time) { timeNow = f }(timeNow)
	timeNow = fixedNow("20190601-120000")

	first, err := Resolve(root, false, false, false)
	assert.NoError(t, err)

	// Back-to-back invocations against the same run directory: nothing has
	// written any accounting output yet, so the suffix must be claimed at
	// resolve time for the second attempt to see it.
	second, err := Resolve(root, true, false, false)
	assert.NoError(t, err)
	expect.EQ(t, second.RunDir, first.RunDir)
	expect.EQ(t, first.MetricsPath, filepath.Join(first.LogDir, "metrics_001.tsv"))
	expect.EQ(t, second.MetricsPath, filepath.Join(first.LogDir, "metrics_002.tsv"))

	third, err := Resolve(root, true, false, false)
	assert.NoError(t, err)
	expect.EQ(t, third.MetricsPath, filepath.Join(first.LogDir, "metrics_003.tsv"))

	for _, path := range []string{first.MetricsPath, second.MetricsPath, third.MetricsPath} {
		info, err := os.Stat(path)
		assert.NoError(t, err)
		expect.EQ(t, info.Size(), int64(0))
	}
}

func TestMetricsClaimSkipsOccupiedSuffix(t *testing.T) {
	root, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	rc, err := Resolve(root, false, false, false)
	assert.NoError(t, err)
	assert.NoError(t, ioutil.WriteFile(filepath.Join(rc.LogDir, "metrics_005.tsv"), nil, 0644))

	next, err := Resolve(root, true, false, false)
	assert.NoError(t, err)
	expect.EQ(t, next.MetricsPath, filepath.Join(rc.LogDir, "metrics_006.tsv"))
}

func TestPatientDirs(t *testing.T) {
	root, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	rc, err := Resolve(root, false, false, false)
	assert.NoError(t, err)
	out, err := rc.PatientOutputDir("PD001")
	assert.NoError(t, err)
	expect.EQ(t, out, filepath.Join(rc.OutputDir, "PD001"))
	final, err := rc.PatientFinalDir("PD001")
	assert.NoError(t, err)
	info, err := os.Stat(final)
	assert.NoError(t, err)
	expect.True(t, info.IsDir())
}
