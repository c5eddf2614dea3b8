package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chdir/fdshare"
)

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show file metadata, resolved with the helper's privileges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fac, err := newFactory()
		if err != nil {
			return err
		}
		defer fac.Close()

		// O_PATH obtains a descriptor without read access; fstat still
		// works on it, so even unreadable-to-root-only files stat fine.
		f, err := fac.OpenFile(cmd.Context(), args[0], fdshare.O_PATH)
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}

		fmt.Printf("  name: %s\n", info.Name())
		fmt.Printf("  size: %d\n", info.Size())
		fmt.Printf("  mode: %s\n", info.Mode())
		fmt.Printf("  mtime: %s\n", info.ModTime())
		return nil
	},
}
