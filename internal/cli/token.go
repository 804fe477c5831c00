package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/medimitra/voiceagent/internal/app"
	"github.com/medimitra/voiceagent/internal/httpapi"
)

var (
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint a client token signed with JWT_SECRET",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set; authentication is disabled")
		}
		tok, err := httpapi.IssueToken(cfg.JWTSecret, args[0], tokenRole, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", `client role, e.g. "`+httpapi.RoleCareTeam+`"`)
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
