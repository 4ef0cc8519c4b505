package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/meetingmind/internal/runtime"
)

func tokenCMD(load loader) *cobra.Command {
	var ttl time.Duration
	var scopes string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an API token signed with general.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			secret, err := runtime.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			tok, err := runtime.SignJWT(args[0], secret, ttl, strings.Fields(strings.ReplaceAll(scopes, ",", " "))...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&scopes, "scopes", strings.Join([]string{runtime.ScopeRead, runtime.ScopeWrite, runtime.ScopeStream}, ","), "comma separated scopes")
	return cmd
}
