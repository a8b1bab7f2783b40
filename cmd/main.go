package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "opportunist",
		Short:        "Crawl, score and deliver opportunity digests",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to the YAML config file")

	root.AddCommand(
		startCommand(),
		runCommand(),
		statusCommand(),
		addUserCommand(),
		testEmailCommand(),
		initCommand(),
		cleanupCommand(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
