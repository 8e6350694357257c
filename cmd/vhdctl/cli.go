package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/djs55/vhddisk/pkg/blkif"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "vhdctl",
	Short: "Create, inspect, and drive Virtual Hard Disk images",
	Long: `vhdctl creates and inspects fixed, dynamic, and differencing VHD
images, and can run an in-process demo of the paravirtualized block
transport against one.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initConfig(flagConfig)
	},
}

func commandInit() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a vhdctl.yaml config file")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(serveCmd)

	createCmd.AddCommand(createFixedCmd)
	createCmd.AddCommand(createDynamicCmd)
	createCmd.AddCommand(createDifferenceCmd)
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new VHD image",
}

// abiFromConfig resolves the configured ABI variant name to its
// blkif.ABI value, defaulting to the 64-bit ABI on anything else.
func abiFromConfig() blkif.ABI {
	switch viper.GetString(configABI) {
	case "32":
		return blkif.ABI32
	default:
		return blkif.ABI64
	}
}
