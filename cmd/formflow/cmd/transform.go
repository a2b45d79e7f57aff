package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"formflow/transformer"
)

func newTransformCmd(a *app) *cobra.Command {
	var (
		vars       map[string]string
		output     string
		doAssemble bool
		script     scriptFlags
	)

	cmd := &cobra.Command{
		Use:   "transform [recording.py]",
		Short: "Rewrite a Playwright codegen recording into resilient actions",
		Long: `Read a recorded Playwright (Python, sync API) session and rewrite it:
interactions that may be missing on a dynamic questionnaire are wrapped so a
timeout is logged and skipped, popup actions retry with scroll recovery, and
directive comments (#pause3, #scroll, #optional, ...) expand into code.

Examples:
  formflow transform recording.py
  formflow transform recording.py --var email=me@example.com -o actions.py
  formflow transform recording.py --assemble --csv people.csv -o run.py
  cat recording.py | formflow transform --assemble --embed=false --csv people.csv`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			opts := a.cfg.Transformer.ToOptions()
			opts.Variables = vars
			opts.Logger = a.log
			res := transformer.New(opts).TransformText(src)

			a.log.WithFields(logrus.Fields{
				"critical":  res.Count(transformer.KindCritical),
				"resilient": res.Count(transformer.KindResilient),
				"popup":     res.Count(transformer.KindPopupAssignment),
				"directive": res.Count(transformer.KindDirective),
				"dropped":   res.Dropped,
				"warnings":  len(res.Warnings),
			}).Info("recording transformed")

			code := res.Code()
			if doAssemble {
				if code, err = a.assemble(code, script); err != nil {
					return err
				}
			}
			return writeOutput(cmd, output, code)
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "bind {{key}} and ${key} placeholders (key=value, repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().BoolVar(&doAssemble, "assemble", false, "wrap the actions into a runnable script")
	script.register(cmd)
	return cmd
}
