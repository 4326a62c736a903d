// Package scanner implements the plugin-discovery child process of
// spec §4.9: a full-system scan that walks search paths for candidate
// plugin files, and a single-file scan mode that isolates a single
// plugin's own init/activate behind a recursive self-exec so a
// misbehaving plugin cannot crash the top-level scan.
package scanner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/shaban/scuffgo/plugins"
)

// Flags mirrors spec.md's scan_flags: reload_failed_devices tells the
// client to retry device creation for plugin ids it previously failed
// to resolve, now that a fresh scan may have found them.
type Flags uint32

const ReloadFailedDevices Flags = 1 << 0

// Options configures one scan run (spec §4.9 and §6's CLI surface).
type Options struct {
	// File, if non-empty, selects single-file mode: probe exactly this
	// path and emit one record, instead of a full-system walk.
	File string
	// AdditionalSearchPaths are appended to the OS-default CLAP/VST3
	// search locations for full-system mode.
	AdditionalSearchPaths []string
}

// Record is the wire shape of every JSON line the scanner emits,
// matching spec §4.9's grammar exactly: plugfile/plugin records go to
// stdout, broken-plugfile/broken-plugin records go to stderr, both use
// the same field names so one decoder handles every line.
type Record struct {
	Type         string   `json:"type"`
	ScanID       string   `json:"scan-id,omitempty"`
	PlugfileType string   `json:"plugfile-type,omitempty"`
	Path         string   `json:"path,omitempty"`
	Name         string   `json:"name,omitempty"`
	ID           string   `json:"id,omitempty"`
	Vendor       string   `json:"vendor,omitempty"`
	Version      string   `json:"version,omitempty"`
	Features     []string `json:"features,omitempty"`
	HasGUI       bool     `json:"has-gui,omitempty"`
	HasParams    bool     `json:"has-params,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Prober is the out-of-scope boundary to an actual CLAP/VST3 host
// library capable of loading a candidate file and introspecting it
// (spec §1, §9 — the same kind of external collaborator as
// sandbox.Adapter). Scanner ships only NullProber; a real build wires
// in a concrete implementation.
type Prober interface {
	Probe(path string, kind plugins.Type) ([]plugins.Plugin, error)
}

// NullProber always fails, standing in for the absent real CLAP/VST3
// loader.
type NullProber struct{}

func (NullProber) Probe(path string, kind plugins.Type) ([]plugins.Plugin, error) {
	return nil, fmt.Errorf("scanner: no prober configured for %s", path)
}

// Run executes a full scan according to opts and writes one JSON
// record per line to stdout (plugfile/plugin) and stderr
// (broken-plugfile/broken-plugin), exactly as spec §4.9 describes.
// selfPath is the scanner binary's own path, used to spawn single-file
// child scans; exec is the process launcher (injectable for tests).
func Run(opts Options, prober Prober, selfPath string, exec func(path, file string) ([]byte, error), stdout, stderr io.Writer) error {
	if opts.File != "" {
		return runSingleFile(opts.File, prober, stdout, stderr)
	}
	return runFullSystem(opts, selfPath, exec, stdout, stderr)
}

func runFullSystem(opts Options, selfPath string, exec func(path, file string) ([]byte, error), stdout, stderr io.Writer) error {
	// Each full-system run gets its own id so a client tracking several
	// concurrent scans (e.g. a manual rescan started while the startup
	// scan is still running) can tell their reports apart.
	scanID := uuid.NewString()
	emit(stdout, Record{Type: "scan_started", ScanID: scanID})
	defer emit(stdout, Record{Type: "scan_complete", ScanID: scanID})

	paths := append(SystemSearchPaths(), opts.AdditionalSearchPaths...)
	for _, root := range paths {
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable path: skip, not fatal to the whole scan
			}
			kind := classify(path, d)
			if kind == plugins.Unknown {
				return nil
			}
			emit(stdout, Record{Type: "plugfile", PlugfileType: string(kind), Path: path})
			out, err := exec(selfPath, path)
			if err != nil {
				emit(stderr, Record{Type: "broken-plugfile", PlugfileType: string(kind), Path: path, Error: err.Error()})
				return nil
			}
			// The child's stdout records (already single-file-mode
			// records) are forwarded verbatim; its stderr records reach
			// this process's stderr through exec (cmd/scanner wires the
			// child's stderr straight through).
			_, _ = stdout.Write(out)
			return nil
		})
	}
	return nil
}

func runSingleFile(path string, prober Prober, stdout, stderr io.Writer) error {
	kind := classify(path, nil)
	plugs, err := prober.Probe(path, kind)
	if err != nil {
		emit(stderr, Record{Type: "broken-plugin", PlugfileType: string(kind), Path: path, Error: err.Error()})
		return nil
	}
	for _, p := range plugs {
		emit(stdout, Record{
			Type: "plugin", PlugfileType: string(p.PlugfileType), Path: p.Path, Name: p.Name,
			ID: p.ExternalID, Vendor: p.Vendor, Version: p.Version, Features: p.Features,
			HasGUI: p.HasGUI, HasParams: p.HasParams,
		})
	}
	return nil
}

func emit(w io.Writer, r Record) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	w.Write(b)
	w.Write([]byte("\n"))
}

func classify(path string, d os.DirEntry) plugins.Type {
	if d != nil && d.IsDir() {
		return plugins.Unknown
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".clap":
		return plugins.CLAP
	case ".vst3":
		return plugins.VST3
	default:
		return plugins.Unknown
	}
}

// SystemSearchPaths returns the OS-default CLAP search locations,
// ported from original_source/scanner/src/os.cpp's Linux realization
// ("/usr/lib/clap" plus "$HOME/.clap"). VST3's default locations are
// added alongside since spec §1 lists VST3 as planned, not absent.
func SystemSearchPaths() []string {
	home, _ := os.UserHomeDir()
	paths := []string{"/usr/lib/clap", "/usr/lib/vst3"}
	if home != "" {
		paths = append(paths, filepath.Join(home, ".clap"), filepath.Join(home, ".vst3"))
	}
	if env := os.Getenv("CLAP_PATH"); env != "" {
		paths = append(paths, strings.Split(env, ":")...)
	}
	if env := os.Getenv("VST3_PATH"); env != "" {
		paths = append(paths, strings.Split(env, ":")...)
	}
	return paths
}
