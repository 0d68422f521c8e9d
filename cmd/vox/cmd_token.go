package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/voxhq/vox/internal/session"
	"github.com/voxhq/vox/internal/token"
)

var tokenSessionArg string

func init() {
	tokenCmd.Flags().StringVar(&tokenSessionArg, "session", "", "session path to bind the token to (default: a new /user_<uuid>/appt_<uuid>)")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token with the configured API key",
	Long: `token exchanges the configured api_key for a bearer token and prints it
to stdout. Session details are printed to stderr, so the output can be
captured with VOX_TOKEN=$(vox token).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.APIKey == "" {
			return fmt.Errorf("token: %w", token.ErrNoAPIKey)
		}

		sessionID := tokenSessionArg
		if sessionID == "" {
			sessionID = token.NewSessionPath()
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		tok, err := token.NewIssuer(cfg.AuthURL, cfg.APIKey).Issue(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}

		fmt.Fprintf(os.Stderr, "session: %s\n", session.SessionIDFromToken(tok))
		if exp, ok := session.TokenExpiry(tok); ok {
			fmt.Fprintf(os.Stderr, "expires: %s (in %s)\n", exp.Format(time.RFC3339), time.Until(exp).Round(time.Second))
		}
		fmt.Fprintln(os.Stdout, tok)
		return nil
	},
}
