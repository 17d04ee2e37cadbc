package journalcmd

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jiechenghan/nifi/internal/journal"
	"github.com/jiechenghan/nifi/internal/provenance"
	"github.com/jiechenghan/nifi/pkg/log"
)

// dumpRecord is the JSON-lines shape of one event.
type dumpRecord struct {
	EventID        uint64            `json:"eventId"`
	Type           string            `json:"type,omitempty"`
	EventTimeMs    int64             `json:"eventTimeMs,omitempty"`
	EntryDateMs    int64             `json:"entryDateMs,omitempty"`
	LineageStartMs int64             `json:"lineageStartMs,omitempty"`
	ComponentID    string            `json:"componentId,omitempty"`
	ComponentType  string            `json:"componentType,omitempty"`
	TransitURI     string            `json:"transitUri,omitempty"`
	FlowFileUUID   string            `json:"flowFileUuid,omitempty"`
	ParentUUIDs    []string          `json:"parentUuids,omitempty"`
	ChildUUIDs     []string          `json:"childUuids,omitempty"`
	ContentSize    uint64            `json:"contentSize,omitempty"`
	Details        string            `json:"details,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Opaque         bool              `json:"opaque,omitempty"`
	PayloadBytes   int               `json:"payloadBytes,omitempty"`
}

func toDumpRecord(ev *provenance.EventRecord) dumpRecord {
	if ev.Opaque() {
		return dumpRecord{EventID: ev.ID, Opaque: true, PayloadBytes: len(ev.Raw)}
	}
	return dumpRecord{
		EventID:        ev.ID,
		Type:           string(ev.Type),
		EventTimeMs:    ev.EventTimeMs,
		EntryDateMs:    ev.EntryDateMs,
		LineageStartMs: ev.LineageStartMs,
		ComponentID:    ev.ComponentID,
		ComponentType:  ev.ComponentType,
		TransitURI:     ev.TransitURI,
		FlowFileUUID:   ev.FlowFileUUID,
		ParentUUIDs:    ev.ParentUUIDs,
		ChildUUIDs:     ev.ChildUUIDs,
		ContentSize:    ev.ContentSize,
		Details:        ev.Details,
		Attributes:     ev.Attributes,
	}
}

func newDumpCommand(logger log.Logger) *cobra.Command {
	var rf readerFlags
	var filterExpr string
	var fromID uint64

	cmd := &cobra.Command{
		Use:   "dump <journal-file>",
		Short: "Print journal records as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := newCELFilter(filterExpr)
			if err != nil {
				return err
			}
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
				TOC:               rf.openTOC(args[0]),
				SkipUndecryptable: rf.skipUndecryptable,
				Logger:            logger,
			})
			if err != nil {
				return err
			}
			if fromID > 0 {
				if err := jr.SkipToEvent(fromID); err != nil {
					if err == io.EOF {
						return nil
					}
					return err
				}
			}

			out := bufio.NewWriter(cmd.OutOrStdout())
			defer out.Flush()
			enc := json.NewEncoder(out)
			for {
				ev, err := jr.Next()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if !filter.Eval(ev) {
					continue
				}
				if err := enc.Encode(toDumpRecord(ev)); err != nil {
					return err
				}
			}
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&filterExpr, "filter", "", `CEL filter, e.g. 'type == "SEND" && attributes["path"] == "/incoming"'`)
	cmd.Flags().Uint64Var(&fromID, "from", 0, "Skip to this event id before dumping")
	return cmd
}
