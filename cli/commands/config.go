package commands

import (
	"fmt"

	"github.com/smallnest/napcatbridge/config"
	"github.com/spf13/cobra"
)

var configInitForce bool

// ConfigCommand returns the config command
func ConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}
	initCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "Overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		RunE:  runConfigValidate,
	}

	cmd.AddCommand(initCmd)
	cmd.AddCommand(validateCmd)
	return cmd
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := config.WriteTemplate(path, configInitForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", config.ExpandUserPath(path))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Config OK")
	fmt.Fprintf(out, "Listen: %s:%d%s\n", cfg.Napcat.Host, cfg.Napcat.Port, cfg.Napcat.Path)
	table := cfg.RouteTable()
	for _, platform := range table.Platforms() {
		fmt.Fprintf(out, "Route: %s -> %s\n", platform, table[platform].URL)
	}
	return nil
}
