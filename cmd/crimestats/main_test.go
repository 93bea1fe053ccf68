package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimestats/crimestats/internal/sink"
	"github.com/crimestats/crimestats/pkg/types"
)

var header = strings.Join(types.RequiredFields, ",")

func writeCSV(t *testing.T, dir, name string, rows ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := header + "\n"
	for _, r := range rows {
		content += r + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--log-level", "off"}, args...)
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

const (
	julyUnley  = "01/07/2023,UNLEY,5061,OFFENCES AGAINST PROPERTY,THEFT AND RELATED OFFENCES,Theft from shop,3"
	julyUnley2 = "01/07/2023,UNLEY,5061,OFFENCES AGAINST PROPERTY,THEFT AND RELATED OFFENCES,Theft from shop,2"
	augNA      = "03/08/2023,NORTH ADELAIDE,5006,OFFENCES AGAINST PROPERTY,THEFT AND RELATED OFFENCES,Theft from shop,5"
	julyPark   = "02/07/2023,PARKSIDE,5063,OFFENCES AGAINST THE PERSON,ACTS INTENDED TO CAUSE INJURY,Common Assault,1"
)

func TestMerge_WritesCanonicalCSV(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", augNA, julyUnley)
	b := writeCSV(t, dir, "b.csv", julyUnley, julyUnley2, julyPark)
	out := filepath.Join(dir, "merged.csv")

	code, stdout, stderr := runCLI(t, "merge", a, b, "-o", out, "--format", "json")
	require.Equal(t, 0, code, stderr)

	var rep mergeReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, 2, rep.Stats.FilesProcessed)
	assert.Equal(t, 5, rep.RowsMerged)
	assert.Equal(t, 1, rep.Stats.ExactDuplicates)
	assert.Equal(t, 2, rep.Stats.LogicalDuplicates)
	assert.Equal(t, 3, rep.Stats.FinalRows)
	assert.Equal(t, int64(11), rep.Stats.TotalCount)
	assert.Len(t, rep.Fingerprint, 32)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, header, lines[0])
	assert.Equal(t, "01/07/2023,UNLEY,5061,OFFENCES AGAINST PROPERTY,THEFT AND RELATED OFFENCES,Theft from shop,5", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "02/07/2023,PARKSIDE"))
	assert.True(t, strings.HasPrefix(lines[3], "03/08/2023,NORTH ADELAIDE"))
}

func TestMerge_TableReport(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", julyUnley)

	code, stdout, stderr := runCLI(t, "merge", a, "-o", filepath.Join(dir, "out.csv"), "--format", "table")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Final rows")
	assert.Contains(t, stdout, "Fingerprint")
}

func TestMerge_SkipsBadSourceByDefault(t *testing.T) {
	dir := t.TempDir()
	good := writeCSV(t, dir, "good.csv", julyUnley)
	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("Suburb - Incident\nUNLEY\n"), 0644))
	out := filepath.Join(dir, "out.csv")

	code, stdout, stderr := runCLI(t, "merge", good, bad, "-o", out, "--format", "json")
	require.Equal(t, 0, code, stderr)
	var rep mergeReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, 1, rep.Stats.FilesSkipped)
	require.Len(t, rep.SkippedFiles, 1)
	assert.Contains(t, rep.SkippedFiles[0], "MISSING_FIELDS")

	require.NoError(t, os.Remove(out))
	code, _, stderr = runCLI(t, "merge", good, bad, "-o", out, "--fail-fast")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "MISSING_FIELDS")
	assert.NoFileExists(t, out)
}

func TestMerge_ConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	in := writeCSV(t, dir, "a.csv", julyUnley)

	code, _, stderr := runCLI(t, "merge", "-o", filepath.Join(dir, "out.csv"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "NO_INPUTS")
	assert.Contains(t, stderr, "Usage:")

	code, _, stderr = runCLI(t, "merge", in)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "NO_OUTPUT")
}

func TestMerge_NothingToMergeWritesNothing(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv")
	b := writeCSV(t, dir, "b.csv")
	out := filepath.Join(dir, "out.csv")

	code, _, stderr := runCLI(t, "merge", a, b, "-o", out)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "NO_ROWS")
	assert.NotContains(t, stderr, "Usage:")
	assert.NoFileExists(t, out)
}

func TestMerge_SQLiteOutput(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", julyUnley, augNA)
	out := filepath.Join(dir, "merged.db")

	code, stdout, stderr := runCLI(t, "merge", a, "-o", out, "--format", "json")
	require.Equal(t, 0, code, stderr)

	table, err := sink.LoadSQLite(context.Background(), out)
	require.NoError(t, err)
	assert.Len(t, table, 2)

	var rep mergeReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	fp, err := sink.Fingerprint(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, rep.Fingerprint, fp)
}

func TestMerge_DateLayoutFromEnvironment(t *testing.T) {
	t.Setenv("CRIMESTATS_DATE_LAYOUT", "2006-01-02")
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "2023-07-01,UNLEY,5061,OFFENCES AGAINST PROPERTY,THEFT AND RELATED OFFENCES,Theft from shop,3")
	out := filepath.Join(dir, "out.csv")

	code, _, stderr := runCLI(t, "merge", a, "-o", out)
	require.Equal(t, 0, code, stderr)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2023-07-01,UNLEY")
}

func TestFilter(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", julyUnley, augNA, julyPark)
	out := filepath.Join(dir, "filtered.csv")

	code, stdout, stderr := runCLI(t, "filter", "-i", a, "-o", out, "-s", "unley", "-s", "Parkside", "-s", "GLENELG", "--fold-case", "--format", "json")
	require.Equal(t, 0, code, stderr)

	var rep filterReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, 2, rep.Stats.RowsMatched)
	assert.Equal(t, []string{"GLENELG"}, rep.Unmatched)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "01/07/2023,UNLEY"))
	assert.True(t, strings.HasPrefix(lines[2], "02/07/2023,PARKSIDE"))
}

func TestFilter_RequiresSuburbs(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", julyUnley)

	code, _, stderr := runCLI(t, "filter", "-i", a, "-o", filepath.Join(dir, "out.csv"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "NO_SUBURBS")
}

func TestSummary(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", julyUnley, augNA, julyPark)

	code, stdout, stderr := runCLI(t, "summary", a, "--suburb", "UNLEY", "--format", "json")
	require.Equal(t, 0, code, stderr)

	var rep summaryReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, 1, rep.Rows)
	assert.Equal(t, int64(3), rep.TotalOffences)
	assert.Equal(t, []string{"UNLEY"}, rep.Suburbs)
}

func TestInvalidFormat(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", julyUnley)

	code, _, stderr := runCLI(t, "summary", a, "--format", "xml")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid --format")
}
