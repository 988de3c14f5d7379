package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/niikun/social-listening/internal/app"
)

func newPreflightCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check model credentials and search availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.NewEngine(cmd.Context(), env.cfg, nil, env.logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			caps, pingErr := engine.Orchestrator.Preflight(cmd.Context(), env.cfg.Survey.SearchEnabled)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(caps); err != nil {
				return err
			}
			return pingErr
		},
	}
}
