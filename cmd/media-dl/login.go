package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fpang/media-bundler/internal/auth"
	"github.com/fpang/media-bundler/internal/cli"
)

var loginToken string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the gateway session token",
	Long: `Login saves the session token used to authenticate with the media gateway to
~/.media-bundler/session, readable only by you. ` + auth.TokenEnv + ` takes
precedence over the stored token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token := loginToken
		if token == "" {
			token = cli.Prompt(os.Stdin, cmd.ErrOrStderr(), "Session token", "")
		}
		if err := auth.CheckTokenFormat(token); err != nil {
			return err
		}
		path, err := auth.SaveSessionToken(token)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session token saved to %s\n", path)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "Token to store (prompted when omitted)")
}
