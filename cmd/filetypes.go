// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zellyn/diskii/types"
)

var filetypesAll bool

// filetypesCmd represents the filetypes command, used to list the
// filetypes diskii understands.
var filetypesCmd = &cobra.Command{
	Use:   "filetypes",
	Short: "list known Apple II file types",
	Long:  `Display all file types that diskii understands, and the names it accepts for them.`,
	Run: func(cmd *cobra.Command, args []string) {
		runFiletypes()
	},
}

func init() {
	RootCmd.AddCommand(filetypesCmd)
	filetypesCmd.Flags().BoolVarP(&filetypesAll, "all", "a", false, "display all types, including SOS types and reserved ranges")
}

// runFiletypes performs the actual filetypes logic.
func runFiletypes() {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintln(w, "Description\tName\tThree-letter Name\tOne-letter Name")
	fmt.Fprintln(w, "-----------\t----\t-----------------\t---------------")
	for _, typ := range types.FiletypeInfos(filetypesAll) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", typ.Desc, typ.Name, typ.ThreeLetter, typ.OneLetter)
	}
	_ = w.Flush()
}
