package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/meetingmind/internal/runtime"
	"github.com/mohammad-safakhou/meetingmind/internal/tail"
)

func tailCMD(load loader) *cobra.Command {
	var base, token string
	cmd := &cobra.Command{
		Use:   "tail <meeting-id>",
		Short: "Follow a live meeting's transcript and insights in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				cfg, err := load()
				if err != nil {
					return err
				}
				secret, err := runtime.LoadJWTSecret(cfg)
				if err != nil {
					return fmt.Errorf("no --token given and %w", err)
				}
				if token, err = runtime.SignJWT("tail", secret, time.Hour, runtime.ScopeRead); err != nil {
					return err
				}
			}
			return tail.Run(base, args[0], token)
		},
	}
	cmd.Flags().StringVar(&base, "server", getenv("MEETINGMIND_SERVER", "http://localhost:10001"), "API base url")
	cmd.Flags().StringVar(&token, "token", getenv("MEETINGMIND_TOKEN", ""), "bearer token (minted from general.jwt_secret when empty)")
	return cmd
}
