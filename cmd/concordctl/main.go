// concordctl runs consensus requests from the command line, either against
// local backends or a remote concordd.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "concordctl",
		Short:         "Multi-model consensus orchestrator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(2)
	}
}
