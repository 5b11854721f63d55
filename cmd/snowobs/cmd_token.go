package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var (
	tokenFresh bool
	tokenPrint bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Check credentials by acquiring an access token",
	Long: `Resolve credentials, acquire a bearer token through the shared cache,
and report the outcome. Useful when wiring up a new deployment.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().BoolVar(&tokenFresh, "fresh", false, "bypass the token cache and mint a new token")
	tokenCmd.Flags().BoolVar(&tokenPrint, "print", false, "print the token to stdout")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := newApp()
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}

	tok, err := eng.tokens.Token(cmd.Context(), !tokenFresh)
	if err != nil {
		return err
	}

	slog.Info("token acquired", "fresh", tokenFresh, "cache", cfg.TokenCache)
	if tokenPrint {
		fmt.Println(tok)
	}
	return nil
}
