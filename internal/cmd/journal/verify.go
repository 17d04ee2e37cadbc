package journalcmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jiechenghan/nifi/internal/journal"
	"github.com/jiechenghan/nifi/pkg/log"
)

func newVerifyCommand(logger log.Logger) *cobra.Command {
	var rf readerFlags

	cmd := &cobra.Command{
		Use:   "verify <journal-file>",
		Short: "Walk a journal end to end and report its health",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := rf.codec()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			jr, err := journal.NewReader(f, journal.ReaderOptions{
				Codec:             codec,
				SkipUndecryptable: rf.skipUndecryptable,
				Logger:            logger,
			})
			if err != nil {
				return err
			}

			var (
				records  int
				opaque   int
				firstID  uint64
				lastID   uint64
				readErr  error
			)
			for {
				ev, err := jr.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					readErr = err
					break
				}
				if records == 0 {
					firstID = ev.ID
				}
				lastID = ev.ID
				if ev.Opaque() {
					opaque++
				}
				records++
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "file:        %s\n", args[0])
			fmt.Fprintf(out, "compressed:  %v\n", jr.Compressed())
			fmt.Fprintf(out, "blocks read: %d\n", jr.BlockIndex()+1)
			fmt.Fprintf(out, "records:     %d\n", records)
			if records > 0 {
				fmt.Fprintf(out, "event ids:   %d..%d\n", firstID, lastID)
			}
			if opaque > 0 {
				fmt.Fprintf(out, "opaque:      %d (encrypted or undecodable payloads)\n", opaque)
			}

			if readErr != nil {
				var ce *journal.CorruptionError
				if errors.As(readErr, &ce) {
					return fmt.Errorf("corruption at offset %d (block %d): %s", ce.Offset, ce.BlockIndex, ce.Reason)
				}
				return readErr
			}
			fmt.Fprintln(out, "ok")
			return nil
		},
	}
	rf.register(cmd)
	return cmd
}
