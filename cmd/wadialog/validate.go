package main

import (
	"fmt"

	"github.com/aretw0/wadialog/internal/validator"
	"github.com/aretw0/wadialog/pkg/adapters/yamlstore"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [stage-dir]",
	Short: "Check the stage graph for consistency",
	Long: `Crawls the stage graph from the start stage, the report stage and every
trigger target, and reports routes to missing stages. With --strict, stages
no root can reach are reported too.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if len(args) > 0 {
			p.StageDir = args[0]
		}
		strict, _ := cmd.Flags().GetBool("strict")

		storage, err := yamlstore.Open(p.StageDir, p.TriggerDir)
		if err != nil {
			return fmt.Errorf("failed to load stages: %w", err)
		}

		targets := make([]string, 0, len(p.Engine.GlobalTriggers))
		for _, def := range p.Engine.GlobalTriggers {
			targets = append(targets, def)
		}
		report, err := validator.ValidateGraph(cmd.Context(), storage, validator.Options{
			StartStage:    p.Engine.StartStage,
			ReportStage:   p.Engine.ReportStage,
			GlobalTargets: targets,
			Strict:        strict,
		})
		if err != nil {
			return err
		}
		if err := report.Err(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Graph is valid: %d stages reachable ✅\n", len(report.Visited))
		return nil
	},
}

func init() {
	addGraphFlags(validateCmd)
	validateCmd.Flags().Bool("strict", false, "Report unreachable stages")
	rootCmd.AddCommand(validateCmd)
}
