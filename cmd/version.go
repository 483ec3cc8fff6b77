package cmd

import (
	"log"

	"github.com/credmesh/credmesh/internal/build"
	"github.com/spf13/cobra"
)

// NewVersionCommand returns the command to get the credmesh version
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the credmesh version",
		Long:  "Return the credmesh version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

// print out the built version
func version(_ *cobra.Command, _ []string) error {
	log.Printf("credmesh Version %s Date %s commit id %s ", build.Version, build.Date, build.Commit)
	return nil
}
