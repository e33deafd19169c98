package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "narraforge",
	Short: "NarraForge - resumable narrative production engine",
	Long:  `NarraForge drives narrative production jobs through a fixed ten-stage pipeline with durable checkpoints, budget enforcement, and crash resume.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7521", "API server address")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(loreCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
