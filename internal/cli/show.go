package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/gdbprobe/internal/scenario"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <scenario-dir> <scenario>",
		Short: "Print a scenario merged with the directory's defaults",
		Long: `Print the record a scenario runs with: the defaults file of the
directory overlaid with the scenario file.

Example:
  gdbprobe show ./test/unit-tests 001_ticket_owner.txt`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showScenario(cmd, rootOpts, args[0], args[1])
		},
	}
	return cmd
}

// sectionOutput is one section in JSON output; fields keep file order.
type sectionOutput struct {
	Name   string           `json:"name"`
	Fields []scenario.Field `json:"fields"`
}

func showScenario(cmd *cobra.Command, opts *RootOptions, dir, name string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	defaults, err := scenario.LoadDefaultsFile(filepath.Join(dir, cfg.DefaultsFile))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load defaults", err)
	}
	rec, err := scenario.LoadScenario(filepath.Join(dir, filepath.Base(name)), defaults)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		sections := []sectionOutput{}
		for _, s := range rec.Sections() {
			fields := rec.Section(s).Fields()
			if fields == nil {
				fields = []scenario.Field{}
			}
			sections = append(sections, sectionOutput{Name: s, Fields: fields})
		}
		return formatter.Success(map[string]interface{}{
			"scenario": filepath.Base(name),
			"sections": sections,
		})
	}
	writeRecord(cmd.OutOrStdout(), rec)
	return nil
}

// writeRecord prints rec in scenario file syntax, so the output loads back.
func writeRecord(w io.Writer, rec *scenario.Record) {
	for i, s := range rec.Sections() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s:\n", s)
		for _, f := range rec.Section(s).Fields() {
			fmt.Fprintf(w, "%s\t%s\n", f.Name, f.Value)
		}
	}
}
