package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
)

const defaultTokenTTL = time.Hour

func newTokenCommand(opts *globalOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for --user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(opts.user) == "" {
				return errors.New("--user is required")
			}
			token, err := auth.IssueToken(opts.jwtSecret, opts.user, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")
	return cmd
}

// bearerToken возвращает --token или выпускает токен для --user.
func (o *globalOptions) bearerToken() (string, error) {
	if token := strings.TrimSpace(o.token); token != "" {
		return token, nil
	}
	if strings.TrimSpace(o.user) == "" {
		return "", errors.New("--token or --user is required")
	}
	return auth.IssueToken(o.jwtSecret, o.user, o.timeout+time.Minute)
}
