// Package cmd implements the formflow command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"formflow/config"
	"formflow/observability"
)

// app carries what every subcommand shares once the root has run.
type app struct {
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *logrus.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{log: logrus.New()}

	root := &cobra.Command{
		Use:   "formflow",
		Short: "Turn recorded browser sessions into resilient questionnaire automation",
		Long: `formflow rewrites Playwright codegen recordings into scripts that survive
dynamic questionnaires, answers questions on live pages by fuzzy heading
matching, and serves both as an HTTP transform service.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: config.yaml or $FORMFLOW_CONFIG)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newTransformCmd(a),
		newAssembleCmd(a),
		newAnswerCmd(a),
		newServeCmd(a),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}

	// CLI flag overrides config file.
	if cmd.Flags().Changed("log-level") {
		if !observability.IsValidLogLevel(a.logLevel) {
			return fmt.Errorf("invalid --log-level %q", a.logLevel)
		}
		cfg.Logging.Level = observability.LogLevel(a.logLevel)
	}

	configured, err := observability.ConfigureLogger(cfg.Logging)
	if err != nil {
		return err
	}
	a.log.SetLevel(configured.Level)
	a.log.SetFormatter(configured.Formatter)
	a.log.SetOutput(configured.Out)

	a.cfg = cfg
	return nil
}
