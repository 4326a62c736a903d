package scanner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shaban/scuffgo/plugins"
)

type fakeProber struct {
	plugs []plugins.Plugin
	err   error
}

func (p fakeProber) Probe(path string, kind plugins.Type) ([]plugins.Plugin, error) {
	return p.plugs, p.err
}

func decodeRecords(t *testing.T, r *bytes.Buffer) []Record {
	t.Helper()
	var out []Record
	for _, line := range strings.Split(strings.TrimRight(r.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

// TestRunSingleFile_EmitsPluginRecord covers single-file mode's happy
// path: a prober that finds one plugin emits exactly one "plugin" record
// on stdout and nothing on stderr.
func TestRunSingleFile_EmitsPluginRecord(t *testing.T) {
	prober := fakeProber{plugs: []plugins.Plugin{{
		PlugfileType: plugins.CLAP,
		Path:         "/usr/lib/clap/synth.clap",
		Name:         "Test Synth",
		ExternalID:   "com.example.synth",
		Vendor:       "Example",
		Version:      "1.0.0",
		HasParams:    true,
	}}}

	var stdout, stderr bytes.Buffer
	err := Run(Options{File: "/usr/lib/clap/synth.clap"}, prober, "", nil, &stdout, &stderr)
	require.NoError(t, err)
	require.Empty(t, stderr.String())

	recs := decodeRecords(t, &stdout)
	require.Len(t, recs, 1)
	require.Equal(t, "plugin", recs[0].Type)
	require.Equal(t, "com.example.synth", recs[0].ID)
	require.Equal(t, "Example", recs[0].Vendor)
	require.True(t, recs[0].HasParams)
}

// TestRunSingleFile_ProbeFailureEmitsBrokenRecord covers a prober error
// surfacing as a stderr "broken-plugin" record rather than a returned
// error, matching spec §4.9: a single bad plugin must not fail the scan.
func TestRunSingleFile_ProbeFailureEmitsBrokenRecord(t *testing.T) {
	prober := fakeProber{err: fmt.Errorf("failed to load")}

	var stdout, stderr bytes.Buffer
	err := Run(Options{File: "/usr/lib/clap/broken.clap"}, prober, "", nil, &stdout, &stderr)
	require.NoError(t, err)
	require.Empty(t, stdout.String())

	recs := decodeRecords(t, &stderr)
	require.Len(t, recs, 1)
	require.Equal(t, "broken-plugin", recs[0].Type)
	require.Contains(t, recs[0].Error, "failed to load")
}

// TestRunFullSystem_WalksSearchPathsAndSpawnsChildren covers the
// full-system mode: it finds candidate files under AdditionalSearchPaths,
// emits a plugfile record for each, and forwards whatever the injected
// exec func writes to its own stdout.
func TestRunFullSystem_WalksSearchPathsAndSpawnsChildren(t *testing.T) {
	dir := t.TempDir()
	clapPath := filepath.Join(dir, "synth.clap")
	require.NoError(t, os.WriteFile(clapPath, []byte("not a real plugin"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))

	var calledWith string
	fakeExec := func(selfPath, file string) ([]byte, error) {
		calledWith = file
		rec := Record{Type: "plugin", PlugfileType: "clap", Path: file, ID: "com.example.synth"}
		b, _ := json.Marshal(rec)
		return append(b, '\n'), nil
	}

	var stdout, stderr bytes.Buffer
	err := Run(Options{AdditionalSearchPaths: []string{dir}}, NullProber{}, "/bin/scanner", fakeExec, &stdout, &stderr)
	require.NoError(t, err)
	require.Empty(t, stderr.String())
	require.Equal(t, clapPath, calledWith)

	recs := decodeRecords(t, &stdout)
	require.Len(t, recs, 4) // scan_started, plugfile, forwarded plugin, scan_complete
	require.Equal(t, "scan_started", recs[0].Type)
	require.Equal(t, "plugfile", recs[1].Type)
	require.Equal(t, clapPath, recs[1].Path)
	require.Equal(t, "plugin", recs[2].Type)
	require.Equal(t, "scan_complete", recs[3].Type)
}

// TestRunFullSystem_ChildFailureEmitsBrokenPlugfile covers the case
// where the injected exec returns an error for a candidate file: it must
// emit a broken-plugfile record on stderr and continue the walk rather
// than aborting.
func TestRunFullSystem_ChildFailureEmitsBrokenPlugfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.vst3"), []byte("x"), 0o644))

	fakeExec := func(selfPath, file string) ([]byte, error) {
		return nil, fmt.Errorf("child exited 1")
	}

	var stdout, stderr bytes.Buffer
	err := Run(Options{AdditionalSearchPaths: []string{dir}}, NullProber{}, "/bin/scanner", fakeExec, &stdout, &stderr)
	require.NoError(t, err)

	recs := decodeRecords(t, &stderr)
	require.Len(t, recs, 1)
	require.Equal(t, "broken-plugfile", recs[0].Type)
	require.Equal(t, "vst3", recs[0].PlugfileType)
	require.Contains(t, recs[0].Error, "child exited 1")
}

// TestClassify covers the plugfile-type classification used to decide
// whether a walked path is even a candidate worth spawning a child for.
func TestClassify(t *testing.T) {
	require.Equal(t, plugins.CLAP, classify("/a/b/synth.clap", nil))
	require.Equal(t, plugins.VST3, classify("/a/b/synth.vst3", nil))
	require.Equal(t, plugins.Unknown, classify("/a/b/readme.txt", nil))
}

// TestReader_DecodesLinesAndDropsMalformedOnes covers scanner.Reader,
// the client-side consumer of this package's JSON-lines output: it must
// decode every well-formed line and silently skip a corrupted one
// instead of treating it as fatal.
func TestReader_DecodesLinesAndDropsMalformedOnes(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"scan_started","scan-id":"abc"}`,
		`not json at all`,
		`{"type":"plugfile","plugfile-type":"clap","path":"/x.clap"}`,
		``,
		`{"type":"scan_complete","scan-id":"abc"}`,
	}, "\n")

	var got []Record
	reader := NewReader(func(rec Record) { got = append(got, rec) })
	err := reader.Run(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.Equal(t, "scan_started", got[0].Type)
	require.Equal(t, "plugfile", got[1].Type)
	require.Equal(t, "/x.clap", got[1].Path)
	require.Equal(t, "scan_complete", got[2].Type)
}
