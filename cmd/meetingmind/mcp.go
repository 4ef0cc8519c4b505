package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/meetingmind/internal/mcpserver"
	"github.com/mohammad-safakhou/meetingmind/internal/store"
)

func mcpCMD(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve stored meetings as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			st, err := store.New(context.Background(), cfg.Storage.Postgres)
			if err != nil {
				return err
			}
			defer st.Close()
			return mcpserver.ServeStdio(mcpserver.New(st, version))
		},
	}
}
