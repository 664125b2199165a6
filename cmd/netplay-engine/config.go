package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"netplay-engine/internal/config"
)

var configSchema string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect client configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Validate a configuration file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(args[0], configSchema); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
		return nil
	},
}

var configResolveCmd = &cobra.Command{
	Use:   "resolve [FILE]",
	Short: "Print the server configuration a session would use",
	Long:  "resolve fetches turn_on configurations and prints the resulting static configuration as YAML.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		cfg, err := loadConfig(path, configSchema)
		if err != nil {
			return err
		}
		conf, err := config.Resolve(cmd.Context(), cfg.Server, config.NewFetcher())
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(conf)
	},
}

func init() {
	configCmd.PersistentFlags().StringVar(&configSchema, "schema", "", "Path to CUE schema file (defaults to the built-in schema)")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configResolveCmd)
}
