package main

import (
	"github.com/Marksio90/narraforge/internal/tui"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive job monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.NewApp(apiAddr).Run()
	},
}
