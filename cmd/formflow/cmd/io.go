package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"formflow/scriptgen"
)

// readInput reads the file named by args[0], or stdin when there is no
// argument or it is "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", args[0], err)
	}
	return string(data), nil
}

// writeOutput writes content to path, or to the command's stdout when path
// is empty.
func writeOutput(cmd *cobra.Command, path, content string) error {
	if path == "" {
		_, err := io.WriteString(cmd.OutOrStdout(), content)
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// scriptFlags are shared by transform --assemble and assemble.
type scriptFlags struct {
	title    string
	csvPath  string
	embed    bool
	headless bool
}

func (f *scriptFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "title written into the script header")
	cmd.Flags().StringVar(&f.csvPath, "csv", "", "CSV file with one row per iteration")
	cmd.Flags().BoolVar(&f.embed, "embed", true, "embed CSV rows in the script instead of reading the file at run time")
	cmd.Flags().BoolVar(&f.headless, "headless", false, "run the generated script headless")
}

// assemble wraps code into a full script using the configured script
// defaults.
func (a *app) assemble(code string, f scriptFlags) (string, error) {
	cfg := a.cfg.Script.ToScript()
	cfg.Title = f.title
	cfg.Headless = cfg.Headless || f.headless
	cfg.Embed = f.embed

	if f.csvPath != "" {
		if f.embed {
			file, err := os.Open(f.csvPath)
			if err != nil {
				return "", fmt.Errorf("opening %s: %w", f.csvPath, err)
			}
			defer file.Close()
			_, rows, err := scriptgen.LoadCSV(file)
			if err != nil {
				return "", fmt.Errorf("loading %s: %w", f.csvPath, err)
			}
			cfg.Rows = rows
			a.log.WithField("rows", len(rows)).Debug("embedded CSV rows")
		} else {
			cfg.CSVFilename = f.csvPath
		}
	}
	return scriptgen.Assemble(code, cfg)
}
