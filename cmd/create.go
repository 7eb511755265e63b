// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/dos3"
	"github.com/zellyn/diskii/helpers"
	"github.com/zellyn/diskii/img"
	"github.com/zellyn/diskii/prodos"
	"github.com/zellyn/diskii/woz"
)

var createName string     // flag for the ProDOS volume name
var createBlocks int      // flag for the ProDOS volume size
var createSystem string   // flag for which file system to format
var createOverwrite bool  // flag for whether to overwrite
var createOrdering string // flag for the output container

// createCmd represents the create command, used to format fresh disk
// images.
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "create a freshly formatted disk image",
	Long: `Create a freshly formatted disk image.

create -v 254 -t do blank.dsk
create --system prodos --name BLANK -t po blank.po
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCreate(args); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
	},
}

func init() {
	RootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVar(&createName, "name", "BLANK", "ProDOS volume name")
	createCmd.Flags().IntVar(&createBlocks, "blocks", 280, "ProDOS volume size in 512-byte blocks")
	createCmd.Flags().StringVar(&createSystem, "system", "dos3", "file system to format: dos3 or prodos")
	createCmd.Flags().StringVarP(&createOrdering, "type", "t", "do", "output image type: do, po, nib, or woz")
	createCmd.Flags().BoolVarP(&createOverwrite, "overwrite", "f", false, "whether to overwrite an existing image")
}

// runCreate performs the actual create logic. The volume number comes
// from the root --volume/-v flag (config-file overridable).
func runCreate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: create <disk image>")
	}

	var logical []byte
	switch createSystem {
	case "dos3":
		var err error
		logical, err = dos3.CreateDiskBytes(defaultVolume)
		if err != nil {
			return err
		}
	case "prodos":
		po, err := prodos.CreateVolumeBytes(createName, uint16(createBlocks))
		if err != nil {
			return err
		}
		if createOrdering != "po" {
			return fmt.Errorf("prodos volumes can only be written in po order")
		}
		return helpers.WriteOutput(args[0], po, createOverwrite)
	default:
		return fmt.Errorf("unknown system %q; expected dos3 or prodos", createSystem)
	}

	physical := func(logicalSector byte) byte {
		return byte(disk.Dos33LogicalToPhysicalSectorMap[logicalSector])
	}
	switch createOrdering {
	case "do":
		return helpers.WriteOutput(args[0], logical, createOverwrite)
	case "po":
		si, err := disk.NewSectorImageFromDO(logical)
		if err != nil {
			return err
		}
		return helpers.WriteOutput(args[0], si.ToPO(), createOverwrite)
	case "nib":
		n, err := img.NibFromDO(logical, physical)
		if err != nil {
			return err
		}
		return helpers.WriteOutput(args[0], n.Bytes(), createOverwrite)
	case "woz":
		w, err := woz.FromDO(logical, physical)
		if err != nil {
			return err
		}
		raw, err := w.Encode()
		if err != nil {
			return err
		}
		return helpers.WriteOutput(args[0], raw, createOverwrite)
	default:
		return fmt.Errorf("unknown image type %q; expected do, po, nib, or woz", createOrdering)
	}
}
