package cmd

import (
	"github.com/sebmertens/broker-gateway/internal/bootstrap"
	"github.com/spf13/cobra"
)

// gatewayCmd represents the gateway command
var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "start the brokerage gateway http server",
	Long:  `start the brokerage gateway http server`,
	Run:   bootstrap.StartGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}
