package main

import (
	"context"

	"github.com/spf13/cobra"

	srv "github.com/mohammad-safakhou/meetingmind/internal/server"
)

func serveCMD(load loader) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the live meeting API and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.General.Listen = addr
			}
			return runUntilSignal("serve", func(ctx context.Context) error { return srv.Run(ctx, cfg) })
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides general.listen)")
	return serve
}
