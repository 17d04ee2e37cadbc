package journalcmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jiechenghan/nifi/internal/journal/toc"
)

func newTOCCommand() *cobra.Command {
	var journalPath string

	cmd := &cobra.Command{
		Use:   "toc <toc-file>",
		Short: "Print TOC entries and check them against the journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := toc.OpenReader(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "compressed: %v\n", tr.Compressed())
			fmt.Fprintf(out, "blocks:     %d\n", tr.BlockCount())
			if tr.Truncated {
				fmt.Fprintln(out, "truncated:  yes (partial trailing entry ignored)")
			}
			for i, e := range tr.Entries() {
				fmt.Fprintf(out, "block %4d  offset %12d  first event %d\n", i, e.Offset, e.FirstEventID)
			}

			if journalPath != "" {
				info, err := os.Stat(journalPath)
				if err != nil {
					return err
				}
				entries := tr.Entries()
				if n := len(entries); n > 0 && entries[n-1].Offset >= uint64(info.Size()) {
					return fmt.Errorf("last TOC offset %d is beyond journal size %d", entries[n-1].Offset, info.Size())
				}
				fmt.Fprintf(out, "journal:    %s (%d bytes) consistent\n", journalPath, info.Size())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&journalPath, "journal", "", "Journal file to check offsets against")
	return cmd
}
