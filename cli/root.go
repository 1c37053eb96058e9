// Package cli napcatbridge 命令行入口
package cli

import (
	"github.com/smallnest/napcatbridge/cli/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "napcatbridge",
	Short: "Bridge a Napcat QQ gateway to MaiBot",
	Long: `napcatbridge accepts a reverse WebSocket from a OneBot v11 (Napcat) gateway,
converts its events into maim_message envelopes and routes them to the core over WebSocket.
Replies from the core are converted back and sent through the gateway.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: ./config.yaml, ./.napcatbridge/config.yaml, ~/.napcatbridge/config.yaml)")

	rootCmd.AddCommand(commands.RunCommand())
	rootCmd.AddCommand(commands.ConfigCommand())
	rootCmd.AddCommand(commands.StatusCommand())
	rootCmd.AddCommand(commands.VersionCommand())
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}
