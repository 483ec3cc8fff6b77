package main

import (
	"os"

	"github.com/credmesh/credmesh/cmd"
	"github.com/credmesh/credmesh/cmd/run"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	runCmd := run.NewRunCommand()
	rootCmd.AddCommand(runCmd)

	migrateCmd := cmd.NewMigrateCommand()
	rootCmd.AddCommand(migrateCmd)

	versionCmd := cmd.NewVersionCommand()
	rootCmd.AddCommand(versionCmd)

	keygenCmd := cmd.NewKeygenCommand()
	rootCmd.AddCommand(keygenCmd)

	issueCmd := cmd.NewIssueCommand()
	rootCmd.AddCommand(issueCmd)

	verifyCmd := cmd.NewVerifyCommand()
	rootCmd.AddCommand(verifyCmd)

	collectCmd := cmd.NewCollectCommand()
	rootCmd.AddCommand(collectCmd)

	zoneCmd := cmd.NewZoneCommand()
	rootCmd.AddCommand(zoneCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
