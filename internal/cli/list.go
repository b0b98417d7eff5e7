package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/gdbprobe/internal/harness"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Filter    string
	FirstOnly bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <scenario-dir>",
		Short: "List the scenarios a run would execute",
		Long: `List the scenario files of a directory in execution order.

Only files named NNN_*.txt are scenarios; the defaults file is never listed.

Example:
  gdbprobe list ./test/unit-tests
  gdbprobe list --filter '00*' ./test/unit-tests`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listScenarios(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only list scenarios matching this glob")
	cmd.Flags().BoolVar(&opts.FirstOnly, "first-only", false, "list only the first scenario")

	return cmd
}

func listScenarios(cmd *cobra.Command, opts *ListOptions, dir string) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	h := harness.New(harness.Options{
		Dir:          dir,
		DefaultsFile: cfg.DefaultsFile,
		Filter:       opts.Filter,
		FirstOnly:    opts.FirstOnly,
	})
	names, err := h.Scenarios()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list scenarios", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		if names == nil {
			names = []string{}
		}
		return formatter.Success(map[string]interface{}{
			"dir":       dir,
			"scenarios": names,
		})
	}
	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
