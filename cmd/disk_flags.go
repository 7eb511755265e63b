// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/zellyn/diskii/cpm"
	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/dos3"
	"github.com/zellyn/diskii/fatfs"
	"github.com/zellyn/diskii/pascalfs"
	"github.com/zellyn/diskii/prodos"
	"github.com/zellyn/diskii/supermon"
	"github.com/zellyn/diskii/types"
)

// operatorFactories lists every disk system diskii knows how to
// operate on, threaded through to disk.OpenFilename.
var operatorFactories = []types.OperatorFactory{
	dos3.OperatorFactory{},
	prodos.OperatorFactory{},
	supermon.OperatorFactory{},
	pascalfs.OperatorFactory{},
	cpm.OperatorFactory{DPB: cpm.StandardDPB525SSSD},
	fatfs.OperatorFactory{},
}

// DiskFlags holds the options shared by every subcommand that opens and
// potentially rewrites a disk image: the image's on-disk sector order,
// which file system it holds, and how noisy opening it should be. It
// plays the role the kong-tagged option struct in the earlier `mksd`
// experiment played, folded into the single option struct every cobra
// subcommand's Run shares, rather than running kong and cobra as two
// competing CLI frameworks.
type DiskFlags struct {
	Order  string
	System string
	Debug  bool
}

// addDiskFlags registers the shared disk-image flags on cmd, backed by
// f.
func addDiskFlags(cmd *cobra.Command, f *DiskFlags) {
	cmd.Flags().StringVar(&f.Order, "order", "auto", "disk sector order: auto, do, or po")
	cmd.Flags().StringVar(&f.System, "system", "auto", "disk system: auto, dos3, prodos, supermon, pascal, cpm, or fat")
	cmd.Flags().BoolVar(&f.Debug, "debug", false, "print debugging information while opening the image")
}

// openDiskImage opens filename using f's order/system/debug settings,
// returning the operator and the order it was actually opened with.
func openDiskImage(filename string, f DiskFlags) (types.Operator, types.DiskOrder, error) {
	order := types.DiskOrder(f.Order)
	if order == "" {
		order = types.DiskOrderAuto
	}
	return disk.OpenFilename(filename, order, f.System, operatorFactories, f.Debug)
}

// writeBackDiskImage writes op's current bytes back to filename in
// diskOrder, overwriting any existing contents.
func writeBackDiskImage(filename string, op types.Operator, diskOrder types.DiskOrder) error {
	return disk.WriteBack(filename, op, diskOrder, true)
}
