package main

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/djs55/vhddisk/pkg/vhd"
)

func createOptions() vhd.CreateOptions {
	return vhd.CreateOptions{
		BlockSize: uint32(viper.GetInt(configBlockSize)),
	}
}

var createFixedCmd = &cobra.Command{
	Use:   "fixed PATH SIZE",
	Short: "Create a fixed-size VHD image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return err
		}

		v, err := vhd.CreateNewFixed(args[0], size, createOptions(), log)
		if err != nil {
			return err
		}
		defer v.Close()

		log.Infof("vhdctl: created fixed disk %s (%d bytes)", args[0], v.CurrentSize())
		return nil
	},
}

var createDynamicCmd = &cobra.Command{
	Use:   "dynamic PATH SIZE",
	Short: "Create a dynamically-expanding VHD image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return err
		}

		v, err := vhd.CreateNewDynamic(args[0], size, createOptions(), log)
		if err != nil {
			return err
		}
		defer v.Close()

		log.Infof("vhdctl: created dynamic disk %s (%d bytes, uuid %s)", args[0], v.CurrentSize(), uuid.UUID(v.Footer().UniqueID))
		return nil
	},
}

var createDifferenceCmd = &cobra.Command{
	Use:   "difference PATH PARENT",
	Short: "Create a differencing VHD image chained to an existing parent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := vhd.CreateNewDifference(args[0], args[1], createOptions(), log)
		if err != nil {
			return err
		}
		defer v.Close()

		log.Infof("vhdctl: created differencing disk %s on parent %s", args[0], args[1])
		return nil
	},
}
