// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"os"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/cmd/cluster-tunnel/commands"
)

func main() {
	commands.Main(os.Args)
}
