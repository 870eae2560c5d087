package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var composeFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "policypro: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policypro",
		Short: "PolicyPro development and operations CLI",
		Long: `PolicyPro CLI drives the docker stack used in development and runs the
ingestion, scan and remediation operations directly against the configured
store. Configuration comes from POLICYPRO_* variables or POLICYPRO_CONFIG.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "Compose file to use for stack commands")
	cmd.AddCommand(stackCommands()...)
	cmd.AddCommand(domainCommands()...)
	return cmd
}
