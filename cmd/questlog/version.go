package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/questlog/questlog/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the questlog version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("questlog %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
