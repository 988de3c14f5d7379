package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/niikun/social-listening/internal/app"
	"github.com/niikun/social-listening/internal/config"
)

func newPersonasCmd(env *cliEnv) *cobra.Command {
	var count int
	var seed int64
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "Print a generated persona population as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 || count > 10000 {
				return fmt.Errorf("%w: --count must be between 1 and 10000", config.ErrInvalid)
			}
			generator, err := app.NewGenerator(env.cfg.Survey)
			if err != nil {
				return err
			}

			seedPtr := env.cfg.Survey.Seed
			if cmd.Flags().Changed("seed") {
				seedPtr = &seed
			}
			personas, err := generator.Generate(count, seedPtr)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(personas)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of personas")
	cmd.Flags().Int64Var(&seed, "seed", 0, "persona seed (default PERSONA_SEED or random)")
	return cmd
}
