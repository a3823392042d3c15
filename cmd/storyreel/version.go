package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the CLI release identifier, overridable at link time.
var Version = "0.1.0"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the StoryReel version",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "storyreel %s\n", Version)
			return nil
		},
	}
}
