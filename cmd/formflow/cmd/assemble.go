package cmd

import (
	"github.com/spf13/cobra"
)

func newAssembleCmd(a *app) *cobra.Command {
	var (
		output string
		script scriptFlags
	)

	cmd := &cobra.Command{
		Use:   "assemble [actions.py]",
		Short: "Wrap transformed actions into a runnable data-driven script",
		Long: `Wrap an already transformed action sequence into a complete Playwright
script: configuration, logging helpers, CSV loading and the per-row loop.
{{column}} placeholders are bound to the current CSV row.

Examples:
  formflow assemble actions.py --csv people.csv -o run.py
  formflow assemble actions.py --csv people.csv --embed=false --headless`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			out, err := a.assemble(code, script)
			if err != nil {
				return err
			}
			return writeOutput(cmd, output, out)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	script.register(cmd)
	return cmd
}
