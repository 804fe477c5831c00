// Package cli defines the voiceagent commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "voiceagent",
	Short: "Real-time multilingual voice health assistant",
	Long: `voiceagent streams patient audio over WebSocket, detects the end of each
utterance, and answers with a spoken reply and a severity assessment.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file; environment variables override it")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(configCmd)
}
