package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/meetingmind/config"
	"github.com/mohammad-safakhou/meetingmind/internal/runtime"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	var cfgPath string
	root := &cobra.Command{Use: "meetingmind", Version: version, SilenceUsage: true}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	load := func() (*config.Config, error) { return config.LoadConfig(cfgPath) }

	root.AddCommand(serveCMD(load), workerCMD(load), migrateCMD(load), tailCMD(load), mcpCMD(load), tokenCMD(load))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type loader func() (*config.Config, error)

// runUntilSignal runs fn with a context cancelled on SIGINT/SIGTERM.
func runUntilSignal(service string, fn func(ctx context.Context) error) error {
	ctx, stop := runtime.SignalContext(context.Background(), service)
	defer stop()
	if err := fn(ctx); err != nil {
		log.Printf("[%s] %v", service, err)
		return err
	}
	return nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
