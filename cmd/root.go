/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "smarthatch",
	Short: "SmartHatch authentication server",
	Long: `SmartHatch authentication server and client.

Run the HTTP API with "smarthatch server", manage the schema with
"smarthatch migrate", and drive a login session from the terminal with
"smarthatch session".`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
