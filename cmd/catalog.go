// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var catalogFlags DiskFlags

// catalogCmd represents the cat command, used to catalog a disk or
// directory.
var catalogCmd = &cobra.Command{
	Use:     "catalog",
	Aliases: []string{"cat", "ls"},
	Short:   "print a list of files",
	Long:    `Catalog a disk or subdirectory.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCat(args); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
	},
}

func init() {
	RootCmd.AddCommand(catalogCmd)
	addDiskFlags(catalogCmd, &catalogFlags)
}

// runCat performs the actual catalog logic.
func runCat(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("cat expects a disk image filename, and an optional subdirectory")
	}
	op, _, err := openDiskImage(args[0], catalogFlags)
	if err != nil {
		return err
	}
	subdir := ""
	if len(args) == 2 {
		if !op.HasSubdirs() {
			return fmt.Errorf("disks operated on by %q cannot have subdirectories", op.Name())
		}
		subdir = args[1]
	}
	descriptors, err := op.Catalog(subdir)
	if err != nil {
		return err
	}
	for _, d := range descriptors {
		fmt.Println(d.Name)
	}
	return nil
}
