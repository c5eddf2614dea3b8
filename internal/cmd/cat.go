package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chdir/fdshare"
)

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file's contents, opened with the helper's privileges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fac, err := newFactory()
		if err != nil {
			return err
		}
		defer fac.Close()

		f, err := fac.OpenFile(cmd.Context(), args[0], fdshare.O_RDONLY)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(os.Stdout, f)
		return err
	},
}
