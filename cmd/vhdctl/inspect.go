package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/djs55/vhddisk/pkg/vhd"
)

// inspectCmd is a read-only introspection dump, the core's analogue of
// the teacher's vdecompiler-style "open an image and print what's in
// it" commands — it never mutates the file.
var inspectCmd = &cobra.Command{
	Use:   "inspect PATH",
	Short: "Print a VHD image's footer, header, BAT, and parent chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := vhd.Load(args[0], log)
		if err != nil {
			return err
		}
		defer v.Close()

		printChain(v)

		if err := v.CheckOverlap(); err != nil {
			log.Warnf("vhdctl: %v", err)
		} else {
			log.Infof("vhdctl: no overlapping regions")
		}
		return nil
	},
}

func printChain(v *vhd.VHD) {
	f := v.Footer()
	log.Infof("path:          %s", v.Path())
	log.Infof("disk type:     %s", v.DiskType())
	log.Infof("current size:  %d bytes", v.CurrentSize())
	log.Infof("original size: %d bytes", f.OriginalSize)
	log.Infof("uuid:          %s", uuid.UUID(f.UniqueID))
	log.Infof("created at:    %s", f.CreatedAt())
	log.Infof("geometry:      %d/%d/%d", f.Geometry.Cylinders, f.Geometry.Heads, f.Geometry.SectorsPerTrack)

	if h := v.Header(); h != nil {
		log.Infof("block size:    %d bytes", h.BlockSize)
		log.Infof("max entries:   %d", h.MaxTableEntries)

		allocated := 0
		for _, entry := range v.BAT() {
			if entry != 0xFFFFFFFF {
				allocated++
			}
		}
		log.Infof("blocks in use: %d/%d", allocated, len(v.BAT()))
	}

	if p := v.Parent(); p != nil {
		log.Infof("parent:")
		printChain(p)
	}
}
