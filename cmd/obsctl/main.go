package main

import (
	"fmt"
	"os"

	obsctlcmd "github.com/observastack/observastack/pkg/obsctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := obsctlcmd.NewRootCommand(obsctlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
