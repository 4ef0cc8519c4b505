package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/meetingmind/internal/worker"
)

func workerCMD(load loader) *cobra.Command {
	var consumer string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process post-meeting jobs (follow-up emails, summary regeneration)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if consumer != "" {
				cfg.Queue.Consumer = consumer
			}
			return runUntilSignal("worker", func(ctx context.Context) error { return worker.Run(ctx, cfg) })
		},
	}
	cmd.Flags().StringVar(&consumer, "consumer", "", "consumer name within the group (default worker-<hostname>)")
	return cmd
}
