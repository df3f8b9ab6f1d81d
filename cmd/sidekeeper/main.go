package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags holds flags for the run command.
type RunFlags struct {
	Command string
	Args    []string
	Listen  string
}

// ProbeFlags holds flags for the probe command.
type ProbeFlags struct {
	URL     string
	Timeout time.Duration
}

// APIFlags holds the status API connection flags.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	probeFlags := &ProbeFlags{}
	apiFlags := &APIFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createProbeCommand(probeFlags),
		createStatusCommand(apiFlags),
		createStopCommand(apiFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "sidekeeper",
		Short: "Supervise a local bridge server and report its health",
		Long: `Sidekeeper launches a single local worker process, polls its HTTP
health endpoint and reports Connected, Waiting for Plugin or Server Stopped.
On exit it terminates the worker and its direct children.

Examples:
  sidekeeper run --config=sidekeeper.toml
  sidekeeper run --command=./bridge-server
  sidekeeper probe --url=http://127.0.0.1:4001/health
  sidekeeper status
  sidekeeper stop`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createRunCommand(global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the worker and monitor it until interrupted",
		Long: `Run spawns the configured worker, starts health polling and serves the
status API. SIGINT or SIGTERM, or POST /shutdown, stops polling and
terminates the worker tree.

Examples:
  sidekeeper run --config=sidekeeper.toml
  sidekeeper run --command=./bridge-server --listen=127.0.0.1:4002`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSupervisor(cmd.Context(), cmd.OutOrStdout(), global.ConfigPath, *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Command, "command", "", "worker command (overrides worker.command)")
	cmd.Flags().StringSliceVar(&flags.Args, "arg", nil, "worker argument, repeatable (overrides worker.args)")
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "status API address (overrides server.listen)")
	return cmd
}

func createProbeCommand(flags *ProbeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Poll a health endpoint once and print its classification",
		Long: `Probe performs a single health poll and prints running, waiting or
stopped. It exits non-zero when the endpoint is unreachable.

Examples:
  sidekeeper probe
  sidekeeper probe --url=http://127.0.0.1:4001/health --timeout=1s`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbe(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.URL, "url", "", "health endpoint URL")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "request timeout")
	return cmd
}

func createStatusCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status reported by a running sidekeeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showStatus(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStopCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running sidekeeper to shut down",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return requestStop(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "status API URL (e.g. http://127.0.0.1:4002)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS verification")
}
