package shipyard

import (
	"fmt"

	"github.com/ameistad/shipyard/internal/constants"
	"github.com/spf13/cobra"
)

func VersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current version of shipyard",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shipyard %s\n", constants.Version)
		},
	}

	return cmd
}
