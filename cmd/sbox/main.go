// Command sbox is the sandbox child process of spec §4.8: given an
// instance name and group/sandbox ids, it opens the shared segments the
// parent client already created and runs until stopped, crashed, or
// abandoned long enough for the heartbeat watchdog to fire.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/shaban/scuffgo/ids"
	"github.com/shaban/scuffgo/plugins"
	"github.com/shaban/scuffgo/sandbox"
)

func main() {
	instance := pflag.String("instance", "", "shared-memory instance name (required)")
	groupID := pflag.Int64("group", 0, "group id (required)")
	sboxID := pflag.Int64("sandbox", 0, "sandbox id (required)")
	pflag.Parse()

	missing := []string{}
	if *instance == "" {
		missing = append(missing, "--instance")
	}
	if *groupID == 0 {
		missing = append(missing, "--group")
	}
	if *sboxID == 0 {
		missing = append(missing, "--sandbox")
	}
	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "sbox: missing required flags: %v\n", missing)
		os.Exit(2)
	}

	stop := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigs
		close(stop)
	}()

	newDevice := func(id ids.Device, pluginType, pluginID string) (sandbox.Adapter, error) {
		// No real CLAP/VST3 host is wired into this binary; every device
		// loads silent until a concrete Adapter implementation is linked
		// in (spec §1, §9's explicit external-collaborator boundary).
		_ = plugins.Type(pluginType)
		return sandbox.NullAdapter{}, nil
	}

	if err := sandbox.Process(*instance, *groupID, *sboxID, newDevice, stop); err != nil {
		log.Error("sandbox exited with error", "err", err)
		os.Exit(1)
	}
}
