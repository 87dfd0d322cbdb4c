package main

import (
	"os"

	"github.com/h2hsecure/acctsync/cmd/acctsync/apps"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "acctsync",
	Short: "SSH login and MariaDB account provisioning for a shared host",
	Long:  apps.AppDescription,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return apps.SetupLogging(apps.LogLevel)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&apps.ConfigPath, "config", apps.ConfigPath, "config file")
	rootCmd.PersistentFlags().StringVar(&apps.LogLevel, "log-level", apps.LogLevel, "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		apps.CreateCmd,
		apps.ImportCmd,
		apps.DeleteCmd,
		apps.PasswdCmd,
		apps.LockCmd,
		apps.UnlockCmd,
		apps.ListCmd,
		apps.ExportCmd,
		apps.SharedCmd,
		apps.LogsCmd,
		apps.BindAddressCmd,
		apps.SyncCmd,
		apps.ReconcileCmd,
		apps.DaemonCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
}
