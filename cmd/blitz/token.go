package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/blitz/internal/auth"
)

var (
	subjectFlag string
	ttlFlag     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API bearer token",
	Long: `Mint a bearer token signed with BLITZ_JWT_SECRET.

Examples:
  blitz token --subject ci-bot
  blitz token --subject alice --ttl 24h`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&subjectFlag, "subject", "", "Name of the caller the token identifies (required)")
	tokenCmd.Flags().DurationVar(&ttlFlag, "ttl", auth.DefaultTTL, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("BLITZ_JWT_SECRET must be set to mint tokens")
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return err
	}
	token, err := tokens.GenerateWithDuration(subjectFlag, ttlFlag)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
