package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use: "clustra-api",
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
}
