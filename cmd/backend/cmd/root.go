// Package cmd assembles the cobra command tree for the backend binary.
// Every subcommand registers its own flags against a shared Config
// and builds its collaborators from it in RunE, never at package init time.
package cmd

import (
	"fmt"

	"github.com/jzelinskie/cobrautil"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Execute builds and runs the root command.
func Execute() error {
	rootCmd := &cobra.Command{
		Use:           "backend",
		Short:         "meeting-management write-path action server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cobrautil.RegisterZeroLogFlags(rootCmd.PersistentFlags(), "log")
	rootCmd.PersistentPreRunE = cobrautil.ZeroLogRunE("log", zerolog.InfoLevel)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version of backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(cobrautil.UsageVersion("backend", false))
			return nil
		},
	})
	rootCmd.AddCommand(newServeCmd())

	return rootCmd.Execute()
}
