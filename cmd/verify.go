// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/helpers"
	"github.com/zellyn/diskii/img"
	"github.com/zellyn/diskii/types"
	"github.com/zellyn/diskii/woz"
)

var verifyFlags DiskFlags

// verifyCmd represents the verify command, used to check the
// structural health of a disk image without modifying it.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "verify a disk image's structure",
	Long: `Verify a disk image's structure.

Container-level checks (WOZ CRC, IMD/TD0 record framing, NIB sizing)
are applied based on the file extension; sector images additionally
get their file system structures walked. All problems found are
reported, not just the first.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runVerify(args); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
	},
}

func init() {
	RootCmd.AddCommand(verifyCmd)
	addDiskFlags(verifyCmd, &verifyFlags)
}

// runVerify performs the actual verify logic.
func runVerify(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: verify <disk image>")
	}
	contents, err := helpers.FileContentsOrStdIn(args[0])
	if err != nil {
		return err
	}
	contents, err = img.Decompress(contents)
	if err != nil {
		return err
	}

	var result *multierror.Error
	switch path.Ext(strings.TrimSuffix(strings.ToLower(args[0]), ".xz")) {
	case ".woz":
		if _, err := woz.Decode(bytes.NewReader(contents)); err != nil {
			result = multierror.Append(result, err)
		}
	case ".nib", ".nb2":
		if _, err := img.NibFromBytes(contents); err != nil {
			result = multierror.Append(result, err)
		}
	case ".imd":
		if _, err := img.ParseImd(contents); err != nil {
			result = multierror.Append(result, err)
		}
	case ".td0":
		if _, err := img.ParseTd0(contents); err != nil {
			result = multierror.Append(result, err)
		}
	default:
		order := types.DiskOrder(verifyFlags.Order)
		if order == "" {
			order = types.DiskOrderAuto
		}
		op, order, err := disk.OpenImage(contents, strings.TrimSuffix(args[0], ".xz"), order, verifyFlags.System, operatorFactories, verifyFlags.Debug)
		if err != nil {
			result = multierror.Append(result, err)
			break
		}
		fmt.Printf("%s image, %s file system\n", order, op.Name())
		if _, err := op.Catalog(""); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}
