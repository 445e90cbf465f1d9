// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"fmt"
	"os"

	"github.com/juju/cmd/v3"
)

// Main runs the cluster-tunnel command and exits. It is separate from
// main so that tests can supply arbitrary command lines.
func Main(args []string) {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		os.Exit(2)
	}
	os.Exit(cmd.Main(NewTunnelCommand(), ctx, args[1:]))
}
