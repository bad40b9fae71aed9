package main

import (
	"fmt"
	"os"

	"github.com/loopwork-ai/saasmcp/internal/cli"
	"github.com/loopwork-ai/saasmcp/services/twilio"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd := cli.NewCommand(twilio.Service(), cli.BuildInfo{Version: version, Commit: commit, Date: date})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
