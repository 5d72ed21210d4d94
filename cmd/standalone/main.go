package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "linerelay",
		Short: "LINE Login relay",
		Long: `linerelay runs the LINE Login authorization-code flow on behalf of
browser and mobile clients and hands them an opaque session id.`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate(`{{printf "linerelay version %s\n" .Version}}`)

	serveCmd := newServeCmd()
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())

	// No subcommand means serve
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "linerelay version %s\n", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
