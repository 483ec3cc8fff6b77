// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	datastoreEngineFlag   = "datastore-engine"
	datastoreEngineConf   = "datastore.engine"
	datastoreURIFlag      = "datastore-uri"
	datastoreURIConf      = "datastore.uri"
	datastoreUsernameFlag = "datastore-username"
	datastorePasswordFlag = "datastore-password"
)

// NewRootCommand enables all children commands to read flags from CLI flags, environment variables prefixed with CREDMESH, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("CREDMESH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/credmesh", "$HOME/.credmesh", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetDefault(datastoreEngineFlag, "")
	viper.SetDefault(datastoreURIFlag, "")
	err := viper.ReadInConfig()
	if err == nil {
		viper.SetDefault(datastoreEngineFlag, viper.Get(datastoreEngineConf))
		viper.SetDefault(datastoreURIFlag, viper.Get(datastoreURIConf))
	}

	return &cobra.Command{
		Use:   "credmesh",
		Short: "A decentralized attribute delegation service with verifiable capability chains",
		Long: `A decentralized attribute delegation service with verifiable capability chains.

Credmesh lets principals publish attribute delegations under their own zones and
lets anyone resolve, collect and verify the resulting delegation chains without
trusting a central authority.`,
	}
}
