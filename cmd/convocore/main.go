package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/convocore/cmd/convocore/cmds"
)

var rootCmd = &cobra.Command{
	Use:   "convocore",
	Short: "convocore runs the assistant widget core behind a terminal, websocket or mock API host",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// settings can only be resolved once the subcommand's flags are parsed
		return cmds.LoadSettings(cmd)
	},
	SilenceUsage: true,
}

func main() {
	cmds.AddRootFlags(rootCmd)
	rootCmd.AddCommand(
		cmds.NewReplCommand(),
		cmds.NewServeCommand(),
		cmds.NewMockAPICommand(),
	)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
