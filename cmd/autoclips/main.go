package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "autoclips",
	Short:         "Turn topics into short vertical videos",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(createCmd, batchCmd, ideasCmd)
	rootCmd.AddCommand(advanceCmd, runCmd, retryCmd, approveCmd, killCmd, reconcileCmd)
	rootCmd.AddCommand(listCmd, statusCmd, historyCmd, footageCmd)
	rootCmd.AddCommand(updateScriptCmd, removeFootageCmd, replaceFootageCmd, changeVoiceCmd, changeMusicCmd)
	rootCmd.AddCommand(serveCmd, doctorCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
