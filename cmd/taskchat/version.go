package main

import (
	"fmt"

	internal "github.com/ZanzyTHEbar/taskchat/taskchat"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s version %s\n", internal.DefaultAppName, internal.Version)
	},
}
