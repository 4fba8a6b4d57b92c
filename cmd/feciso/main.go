package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Wenri/FECISO/internal/utils/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "feciso",
	Short: "build and inspect self-verifying, self-booting optical disc images",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(createBuildCommand())
	rootCmd.AddCommand(createInspectCommand())
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
