// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/helpers"
	"github.com/zellyn/diskii/types"
)

var (
	reorderOrder    string
	reorderNewOrder string
	reorderForce    bool
)

// reorderCmd represents the reorder command, used to convert a disk
// image between DOS-ordered and ProDOS-ordered sector layout.
var reorderCmd = &cobra.Command{
	Use:   "reorder disk-image [new-disk-image]",
	Short: "convert a disk image between DO and PO sector order",
	Long: `reorder converts a disk image between DOS-ordered (DO) and
ProDOS-ordered (PO) sector layout.

If new-disk-image is omitted, the result is written to stdout.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runReorder(args); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
	},
}

func init() {
	RootCmd.AddCommand(reorderCmd)
	reorderCmd.Flags().StringVar(&reorderOrder, "order", "auto", "logical-to-physical sector order of the input: auto, do, or po")
	reorderCmd.Flags().StringVar(&reorderNewOrder, "new-order", "auto", "logical-to-physical sector order of the output: auto, do, or po")
	reorderCmd.Flags().BoolVarP(&reorderForce, "force", "s", false, "overwrite an existing output file")
}

// runReorder performs the actual reorder logic.
func runReorder(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: reorder disk-image [new-disk-image]")
	}
	diskImage := args[0]
	newDiskImage := "-"
	if len(args) == 2 {
		newDiskImage = args[1]
	}

	fromOrderName, toOrderName, err := getOrders(diskImage, reorderOrder, newDiskImage, reorderNewOrder)
	if err != nil {
		return err
	}
	frombytes, err := helpers.FileContentsOrStdIn(diskImage)
	if err != nil {
		return err
	}
	fromOrder, ok := disk.LogicalToPhysicalByName[types.DiskOrder(fromOrderName)]
	if !ok {
		return fmt.Errorf("internal error: disk order '%s' not found", fromOrderName)
	}
	toOrder, ok := disk.PhysicalToLogicalByName[types.DiskOrder(toOrderName)]
	if !ok {
		return fmt.Errorf("internal error: disk order '%s' not found", toOrderName)
	}
	rawbytes, err := disk.Swizzle(frombytes, fromOrder)
	if err != nil {
		return err
	}
	tobytes, err := disk.Swizzle(rawbytes, toOrder)
	if err != nil {
		return err
	}
	return helpers.WriteOutput(newDiskImage, tobytes, reorderForce)
}

// getOrders returns the input order, and the output order.
func getOrders(inFilename string, inOrder string, outFilename string, outOrder string) (string, string, error) {
	if inOrder == "auto" && outOrder != "auto" {
		return oppositeOrder(outOrder), outOrder, nil
	}
	if outOrder == "auto" && inOrder != "auto" {
		return inOrder, oppositeOrder(inOrder), nil
	}
	if inOrder != outOrder {
		return inOrder, outOrder, nil
	}
	if inOrder != "auto" {
		return "", "", fmt.Errorf("identical order and new-order")
	}

	inGuess, outGuess := orderFromFilename(inFilename), orderFromFilename(outFilename)
	if inGuess == outGuess {
		if inGuess == "" {
			return "", "", fmt.Errorf("cannot determine input or output order from file extensions")
		}
		return "", "", fmt.Errorf("guessed order (%s) from file %q is the same as guessed order (%s) from file %q", inGuess, inFilename, outGuess, outFilename)
	}

	if inGuess == "" {
		return oppositeOrder(outGuess), outGuess, nil
	}
	if outGuess == "" {
		return inGuess, oppositeOrder(inGuess), nil
	}
	return inGuess, outGuess, nil
}

// oppositeOrder returns the opposite order from the input.
func oppositeOrder(order string) string {
	if order == "do" {
		return "po"
	}
	return "do"
}

// orderFromFilename tries to guess the disk order from the filename, using the extension.
func orderFromFilename(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".dsk", ".do":
		return "do"
	case ".po":
		return "po"
	default:
		return ""
	}
}
