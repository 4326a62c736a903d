// Command scanner is the plugin-discovery child process of spec §4.9:
// in full-system mode it walks the default and configured search paths,
// spawning itself once per candidate file; with --file it probes
// exactly one path and exits.
package main

import (
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/shaban/scuffgo/scanner"
)

func main() {
	file := pflag.String("file", "", "probe exactly this plugin file instead of scanning the whole system")
	searchPaths := pflag.String("search-paths", "", "additional ; -delimited search paths")
	pflag.Parse()

	self, err := os.Executable()
	if err != nil {
		log.Fatal("could not resolve own executable path", "err", err)
	}

	opts := scanner.Options{File: *file}
	if *searchPaths != "" {
		opts.AdditionalSearchPaths = strings.Split(*searchPaths, ";")
	}

	execChild := func(path, candidate string) ([]byte, error) {
		cmd := exec.Command(path, "--file", candidate)
		cmd.Stderr = os.Stderr
		return cmd.Output()
	}

	if err := scanner.Run(opts, scanner.NullProber{}, self, execChild, os.Stdout, os.Stderr); err != nil {
		log.Fatal("scan failed", "err", err)
	}
}
