// Package main provides portalctl, a command line client for the job portal
// API and its route guard.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/upb/jobportal/internal/observability"
	"go.uber.org/zap"
)

const appName = "portalctl"

// Version is set at build time
var Version = "dev"

type rootOptions struct {
	server   string
	logLevel string
	asJSON   bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Job portal command line client",
		Long: `portalctl talks to the job portal API and evaluates client routes.

It can:
- hash passwords for seeding accounts
- log in and show the authenticated principal
- classify routes and show where the route guard sends a session`,
		SilenceUsage: true,
	}

	defaultServer := os.Getenv("PORTAL_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "API base URL (env PORTAL_URL)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Output results as JSON")

	cmd.AddCommand(
		hashPasswordCmd(),
		loginCmd(opts),
		whoamiCmd(opts),
		classifyCmd(opts),
		guardCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)

	return cmd
}

func (o *rootOptions) logger() (*zap.Logger, error) {
	return observability.NewLogger(o.logLevel, "console")
}
