package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *App) newFilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "files [pattern]",
		Short: "List stored attachments, optionally only names containing pattern",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config %s: %w", a.configPath, err)
			}
			backend, err := a.openBackend(cmd.Context(), a.cfg.Storage)
			if err != nil {
				return err
			}

			var pattern string
			if len(args) == 1 {
				pattern = args[0]
			}

			out := cmd.OutOrStdout()
			n := 0
			for name, err := range backend.Scan(cmd.Context(), pattern) {
				if err != nil {
					return err
				}
				fmt.Fprintln(out, name)
				n++
			}
			if n == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no files found")
			}
			return nil
		},
	}
}
