package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/config"
	"github.com/niikun/social-listening/internal/telemetry"
)

// Exit codes
const (
	exitFailure = 1
	exitConfig  = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, config.ErrInvalid) {
		return exitConfig
	}
	return exitFailure
}

// cliEnv is the configuration and logger shared by every subcommand
type cliEnv struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	env := &cliEnv{}
	var logLevel string

	root := &cobra.Command{
		Use:           "survey",
		Short:         "Ask a question of a synthetic persona population",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := telemetry.NewLogger(logLevel)
			if err != nil {
				return fmt.Errorf("%w: %v", config.ErrInvalid, err)
			}
			env.cfg = cfg
			env.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if env.logger != nil {
				env.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(env), newPersonasCmd(env), newPreflightCmd(env))
	return root
}
