// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/helpers"
	"github.com/zellyn/diskii/types"
)

var (
	sdOrder   string
	sdAddress uint16
	sdStart   uint16
)

// sdCmd represents the mksd command, used to build a disk image that
// boots and runs a single binary via Peter Ferrie's "standard
// delivery" loader.
var sdCmd = &cobra.Command{
	Use:   "mksd disk-image binary",
	Short: "build a standard-delivery boot disk for a binary",
	Long: `mksd builds a disk image that boots straight into a binary,
using Peter Ferrie's "standard delivery" loader.

See https://github.com/peterferrie/standard-delivery for details.

Examples:
	# Load and run foo.o at the default address, then jump to the start of the loaded code.
	diskii mksd test.dsk foo.o

	# Load foo.o at address 0x2000, then jump to 0x2100.
	diskii mksd test.dsk foo.o --address 0x2000 --start 0x2100`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSD(args); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
	},
}

func init() {
	RootCmd.AddCommand(sdCmd)
	sdCmd.Flags().StringVar(&sdOrder, "order", "auto", "logical-to-physical sector order: auto, do, or po")
	sdCmd.Flags().Uint16Var(&sdAddress, "address", 0x6000, "address to load the code at")
	sdCmd.Flags().Uint16Var(&sdStart, "start", 0xFFFF, "address to jump to; defaults to the load address")
}

// runSD performs the actual mksd logic.
func runSD(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: mksd disk-image binary")
	}
	diskImage := args[0]
	binaryName := args[1]

	address := sdAddress
	start := sdStart
	if start == 0xFFFF {
		start = address
	}

	binary, err := os.Open(binaryName)
	if err != nil {
		return err
	}
	defer binary.Close()
	contents, err := io.ReadAll(binary)
	if err != nil {
		return err
	}
	if address%256 != 0 {
		return fmt.Errorf("address %d (%04X) not on a page boundary", address, address)
	}
	if start < address {
		return fmt.Errorf("start address %d (%04X) < load address %d (%04X)", start, start, address, address)
	}

	if int(start) >= int(address)+len(contents) {
		end := int(address) + len(contents)
		return fmt.Errorf("start address %d (%04X) is beyond load address %d (%04X) + file length = %d (%04X)",
			start, start, address, address, end, end)
	}

	if int(start)+len(contents) > 0xC000 {
		end := int(start) + len(contents)
		return fmt.Errorf("start address %d (%04X) + file length %d (%04X) = %d (%04X), but we can't load past page 0xBF00",
			start, start, len(contents), len(contents), end, end)
	}

	sectors := (len(contents) + 255) / 256

	loader := []byte{
		0x01, 0xa8, 0xee, 0x06, 0x08, 0xad, 0x4e, 0x08, 0xc9, 0xc0, 0xf0, 0x40, 0x85, 0x27, 0xc8,
		0xc0, 0x10, 0x90, 0x09, 0xf0, 0x05, 0x20, 0x2f, 0x08, 0xa8, 0x2c, 0xa0, 0x01, 0x84, 0x3d,
		0xc8, 0xa5, 0x27, 0xf0, 0xdf, 0x8a, 0x4a, 0x4a, 0x4a, 0x4a, 0x09, 0xc0, 0x48, 0xa9, 0x5b,
		0x48, 0x60, 0xe6, 0x41, 0x06, 0x40, 0x20, 0x37, 0x08, 0x18, 0x20, 0x3c, 0x08, 0xe6, 0x40,
		0xa5, 0x40, 0x29, 0x03, 0x2a, 0x05, 0x2b, 0xa8, 0xb9, 0x80, 0xc0, 0xa9, 0x30, 0x4c, 0xa8,
		0xfc, 0x4c, byte(start), byte(start >> 8),
	}

	if len(loader)+sectors+1 > 256 {
		return fmt.Errorf("file %q is %d bytes long, max is %d", binaryName, len(contents), (255-len(loader))*256)
	}

	for len(contents)%256 != 0 {
		contents = append(contents, 0)
	}

	diskbytes := make([]byte, disk.FloppyDiskBytes)

	var track, sector byte
	for i := 0; i < len(contents); i += 256 {
		sector += 2
		if sector >= disk.FloppySectors {
			sector = (disk.FloppySectors + 1) - sector
			if sector == 0 {
				track++
				if track >= disk.FloppyTracks {
					return fmt.Errorf("ran out of tracks")
				}
			}
		}

		loadAddress := int(address) + i
		loader = append(loader, byte(loadAddress>>8))
		if err := disk.WriteSector(diskbytes, track, sector, contents[i:i+256]); err != nil {
			return err
		}
	}

	loader = append(loader, 0xC0)
	for len(loader) < 256 {
		loader = append(loader, 0)
	}

	if err := disk.WriteSector(diskbytes, 0, 0, loader); err != nil {
		return err
	}

	order := types.DiskOrder(sdOrder)
	if order == types.DiskOrderAuto {
		order = disk.OrderFromFilename(diskImage, types.DiskOrderDO)
	}
	rawBytes, err := disk.Swizzle(diskbytes, disk.PhysicalToLogicalByName[order])
	if err != nil {
		return err
	}
	return helpers.WriteOutput(diskImage, rawBytes, true)
}
