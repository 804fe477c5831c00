package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/medimitra/voiceagent/internal/app"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig(configPath)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg.Redacted())
	},
}
