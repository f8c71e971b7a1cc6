package main

import (
	"fmt"
	"os"

	"github.com/aretw0/wadialog/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wadialog",
	Short: "wadialog runs WhatsApp conversations from a stage graph",
	Long: `wadialog receives WhatsApp Cloud API webhooks, resolves every message
against a YAML stage graph and replies through the configured sender.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		return config.LoadDotEnv(envFile)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to a .env file loaded before the config")
}

// loadConfig reads the process config and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Process, error) {
	path, _ := cmd.Flags().GetString("config")
	p, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("stages") {
		p.StageDir, _ = cmd.Flags().GetString("stages")
	}
	if cmd.Flags().Changed("triggers") {
		p.TriggerDir, _ = cmd.Flags().GetString("triggers")
	}
	if cmd.Flags().Changed("start") {
		p.Engine.StartStage, _ = cmd.Flags().GetString("start")
	}
	return p, nil
}

func addGraphFlags(cmd *cobra.Command) {
	cmd.Flags().String("stages", "stages", "Directory of stage YAML files")
	cmd.Flags().String("triggers", "", "Directory of trigger YAML files")
	cmd.Flags().String("start", "", "Start stage (overrides start_stage)")
}
