package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/wadialog"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of wadialog",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "wadialog version %s\n", strings.TrimSpace(wadialog.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
