package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// composeFlag adds a boolean flag that appends arg to the compose command.
type composeFlag struct {
	name, short, arg, usage string
	def                     bool
}

// newComposeCmd wraps one docker compose verb. Positional args are passed
// through as service names.
func newComposeCmd(verb, short string, flags ...composeFlag) *cobra.Command {
	values := make([]bool, len(flags))
	cmd := &cobra.Command{
		Use:   verb + " [service...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := []string{"compose", "-f", composeFile, verb}
			for i, f := range flags {
				if values[i] {
					composeArgs = append(composeArgs, f.arg)
				}
			}
			composeArgs = append(composeArgs, args...)
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
	for i, f := range flags {
		cmd.Flags().BoolVarP(&values[i], f.name, f.short, f.def, f.usage)
	}
	return cmd
}

func stackCommands() []*cobra.Command {
	return []*cobra.Command{
		newComposeCmd("build", "Build Docker images via docker compose",
			composeFlag{name: "no-cache", arg: "--no-cache", usage: "Disable Docker build cache"}),
		newComposeCmd("up", "Start the stack (postgres, redis, minio, meilisearch, api, worker)",
			composeFlag{name: "build", arg: "--build", def: true, usage: "Rebuild images before starting"},
			composeFlag{name: "detached", short: "d", arg: "-d", def: true, usage: "Run docker compose in detached mode"}),
		newComposeCmd("down", "Stop the stack",
			composeFlag{name: "volumes", short: "v", arg: "-v", usage: "Remove stack volumes"}),
		newComposeCmd("logs", "Tail logs from the stack",
			composeFlag{name: "follow", arg: "-f", usage: "Stream logs continuously"}),
		newTestCmd(),
		newRunCmd(),
	}
}

func newTestCmd() *cobra.Command {
	var race, cover, short bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			if short {
				goArgs = append(goArgs, "-short")
			}
			goArgs = append(goArgs, pkgs...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	cmd.Flags().BoolVar(&short, "short", false, "Skip Postgres integration tests")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the binaries directly",
	}
	for name, path := range map[string]string{"api": "./cmd/api", "worker": "./cmd/worker"} {
		path := path
		cmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("go run %s", path),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd.Context(), "go", append([]string{"run", path}, args...)...)
			},
		})
	}
	return cmd
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
