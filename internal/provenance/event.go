package provenance

// EventType enumerates the lineage actions a component can report.
type EventType string

const (
	EventTypeCreate             EventType = "CREATE"
	EventTypeReceive            EventType = "RECEIVE"
	EventTypeFetch              EventType = "FETCH"
	EventTypeSend               EventType = "SEND"
	EventTypeDownload           EventType = "DOWNLOAD"
	EventTypeDrop               EventType = "DROP"
	EventTypeExpire             EventType = "EXPIRE"
	EventTypeFork               EventType = "FORK"
	EventTypeJoin               EventType = "JOIN"
	EventTypeClone              EventType = "CLONE"
	EventTypeContentModified    EventType = "CONTENT_MODIFIED"
	EventTypeAttributesModified EventType = "ATTRIBUTES_MODIFIED"
	EventTypeRoute              EventType = "ROUTE"
	EventTypeReplay             EventType = "REPLAY"
	EventTypeUnknown            EventType = "UNKNOWN"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeCreate, EventTypeReceive, EventTypeFetch, EventTypeSend,
		EventTypeDownload, EventTypeDrop, EventTypeExpire, EventTypeFork,
		EventTypeJoin, EventTypeClone, EventTypeContentModified,
		EventTypeAttributesModified, EventTypeRoute, EventTypeReplay,
		EventTypeUnknown:
		return true
	}
	return false
}

// EventRecord is one immutable lineage event. The ID is assigned by the
// writer at persist time; all other fields are provided by the caller.
type EventRecord struct {
	ID   uint64
	Type EventType

	// EventTimeMs is when the action happened, milliseconds since epoch.
	EventTimeMs int64
	// EntryDateMs is when the flowfile entered the flow.
	EntryDateMs int64
	// LineageStartMs is the epoch of the oldest ancestor flowfile.
	LineageStartMs int64

	ComponentID   string
	ComponentType string
	// TransitURI is set for SEND/RECEIVE/FETCH events, empty otherwise.
	TransitURI string
	Details    string

	FlowFileUUID string
	// ParentUUIDs/ChildUUIDs carry lineage for FORK, JOIN and CLONE events.
	ParentUUIDs []string
	ChildUUIDs  []string

	// ContentSize is the flowfile content size in bytes.
	ContentSize uint64

	// Attributes is the flowfile attribute snapshot. Keys are unique;
	// insertion order carries no meaning.
	Attributes map[string]string

	// Raw holds the undecoded record payload when a reader could not
	// interpret it as plaintext fields, which is what a non-decrypting
	// reader sees in an encrypted journal. Mutually exclusive with the
	// lineage fields above being populated.
	Raw []byte
}

// Opaque reports whether the record carries only an undecoded payload.
func (e *EventRecord) Opaque() bool { return len(e.Raw) > 0 }

// TruncationMarker is appended to attribute values cut at the configured
// maximum so truncation is visible after a round-trip.
const TruncationMarker = "..."

// TruncateAttributeValue deterministically bounds one attribute value.
// Values at or under max pass through untouched; longer values are cut at
// max bytes and suffixed with the truncation marker.
func TruncateAttributeValue(v string, max int) string {
	if max <= 0 || len(v) <= max {
		return v
	}
	return v[:max] + TruncationMarker
}

// TruncateAttributes returns a copy of attrs with every value bounded by
// max. The input map is never modified. A nil map stays nil.
func TruncateAttributes(attrs map[string]string, max int) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = TruncateAttributeValue(v, max)
	}
	return out
}
