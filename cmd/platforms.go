// File: cmd/platforms.go
package cmd

import (
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/autosign-cli/internal/platform"
)

// newPlatformsCmd lists the built-in platform profiles.
func newPlatformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "Lists the platforms with built-in signup profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := platform.NewRegistry()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()

			if _, err := w.Write([]byte("PLATFORM\tCHANNEL\tSIGNUP URL\n")); err != nil {
				return err
			}
			for _, p := range registry.Profiles() {
				row := string(p.ID) + "\t" + string(p.Channel) + "\t" + p.SignupURL + "\n"
				if _, err := w.Write([]byte(row)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
