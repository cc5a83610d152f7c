package cmd

import (
	"github.com/sebmertens/broker-gateway/internal/bootstrap"
	"github.com/spf13/cobra"
)

// universeCmd represents the universe command
var universeCmd = &cobra.Command{
	Use:   "universe",
	Short: "seed or prune the index universe mapping",
	Long:  `seed or prune the index universe mapping`,
	Run:   bootstrap.StartUniverse,
}

func init() {
	rootCmd.AddCommand(universeCmd)
	universeCmd.PersistentFlags().String("action", "sync", "action sync|remove")
	universeCmd.PersistentFlags().String("symbols", "", "comma separated symbols")
	universeCmd.PersistentFlags().Bool("refresh", false, "re-resolve symbols that are already mapped")
}
