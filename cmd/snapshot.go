package cmd

import (
	"github.com/sebmertens/broker-gateway/internal/bootstrap"
	"github.com/spf13/cobra"
)

// snapshotCmd represents the snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "capture a one-off index snapshot and print it",
	Long:  `capture a one-off index snapshot and print it`,
	Run:   bootstrap.StartSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
