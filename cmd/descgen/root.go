package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug enables debug mode for all commands.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "descgen",
		Short: "Activity description enrichment service",
		Long: `descgen enriches fitness activities with generated descriptions.

Jobs are queued in a local SQLite database and processed by a single
worker that fetches the activity, gathers optional weather and nutrition
context, and writes the composed description back.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug mode")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("descgen version 1.0.0")
		},
	})

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(workCommand())
}
