package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/server"
	"golang.org/x/term"
)

func newTokenCmd() *cobra.Command {
	var (
		configPath string
		user       string
		secret     string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT for a user",
		Long: `Signs an HS256 bearer token for local API testing.

The signing secret comes from --secret, then the config file, then an
interactive prompt. This is a development utility, not an auth system.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, configPath, user, secret, ttl)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVarP(&user, "user", "u", "", "user the token authenticates as")
	cmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret (falls back to config, then prompt)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runToken(cmd *cobra.Command, configPath, user, secret string, ttl time.Duration) error {
	out := cmd.OutOrStdout()

	if secret == "" {
		if cfg, err := config.Load(configPath); err == nil {
			secret = cfg.Auth.JWTSecret
		}
	}
	if secret == "" {
		s, err := promptSecret(cmd)
		if err != nil {
			return err
		}
		secret = s
	}

	token, err := server.MintToken(secret, user, ttl)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, token)
	return nil
}

// promptSecret reads the signing secret without echoing it.
func promptSecret(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no signing secret: pass --secret or set auth.jwt_secret in config")
	}

	fmt.Fprint(cmd.OutOrStdout(), "JWT secret: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("signing secret must not be empty")
	}
	return string(raw), nil
}
