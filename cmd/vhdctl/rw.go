package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/djs55/vhddisk/pkg/vhd"
)

var readCmd = &cobra.Command{
	Use:   "read PATH SECTOR",
	Short: "Read one 512-byte sector from a VHD image to stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sector, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return err
		}

		v, err := vhd.Load(args[0], log)
		if err != nil {
			return err
		}
		defer v.Close()

		buf := make([]byte, 512)
		if err := v.ReadSector(sector, buf); err != nil {
			return err
		}

		_, err = os.Stdout.Write(buf)
		return err
	},
}

var writeCmd = &cobra.Command{
	Use:   "write PATH SECTOR",
	Short: "Write one 512-byte sector to a VHD image, reading it from stdin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sector, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return err
		}

		v, err := vhd.Load(args[0], log)
		if err != nil {
			return err
		}
		defer v.Close()

		buf := make([]byte, 512)
		if _, err := io.ReadFull(os.Stdin, buf); err != nil {
			return fmt.Errorf("vhdctl: reading sector data from stdin: %w", err)
		}

		if err := v.WriteSector(sector, buf); err != nil {
			return err
		}

		log.Infof("vhdctl: wrote sector %d of %s", sector, args[0])
		return nil
	},
}
