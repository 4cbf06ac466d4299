// Command vsock serves and dials typed packet connections over WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vango-dev/vsock/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┬  ┬┌─┐┌─┐┌─┐┬┌─
  └┐┌┘└─┐│ ││  ├┴┐
   └┘ └─┘└─┘└─┘┴ ┴
`

func main() {
	if err := rootCmd().Execute(); err != nil {
		errors.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var noColor bool

	root := &cobra.Command{
		Use:   "vsock",
		Short: "Typed packet messaging over WebSocket",
		Long: `vsock exchanges typed packets over WebSocket connections.

Each packet has a numeric identity assigned by a shared schema and an
optional JSON payload. This command runs the demo chat server and a
line-oriented client for it:

  • serve: WebSocket endpoint with metrics and health checks
  • dial: connect, send chat lines, print what arrives
  • schema: print the packet table and fingerprint`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				errors.DisableColors()
			}
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "Config file (.toml or .json, default ./vsock.toml if present)")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		serveCmd(),
		dialCmd(),
		schemaCmd(),
		configCmd(),
		versionCmd(),
	)
	return root
}

// printBanner prints the ASCII art banner.
func printBanner(cmd *cobra.Command) {
	fmt.Fprint(cmd.OutOrStdout(), banner)
}

// success prints a success message.
func success(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", fmt.Sprintf(format, args...))
}
