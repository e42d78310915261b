package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"usermgr/core"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "usermgr",
	Short: "User management API with stateless bearer authentication",
	Long: `usermgr serves user accounts, profile details and photos behind
HS256 bearer tokens.

Settings come from the environment. A .env file in the working directory and
the YAML file named by --config (or CONFIG_FILE) provide defaults beneath it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := core.LoadDotEnv(".env"); err != nil {
			return err
		}
		path := configFile
		if path == "" {
			path = os.Getenv("CONFIG_FILE")
		}
		return core.ApplyConfigFile(path)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.AddCommand(serveCmd, hashPasswordCmd, issueTokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
