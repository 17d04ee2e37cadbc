package registry

import "encoding/binary"

// Keyspace layout (byte-wise, lexicographically sortable):
// - j/{first_event_id_be8}
//
// Big-endian ids make an ordered scan of the prefix equal to journal order,
// and SeekLT the natural "last journal starting at or before id" lookup.
var journalPrefix = []byte("j/")

func journalKey(firstEventID uint64) []byte {
	k := make([]byte, 0, len(journalPrefix)+8)
	k = append(k, journalPrefix...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], firstEventID)
	return append(k, b[:]...)
}

// journalPrefixEnd is the exclusive upper bound of the journal keyspace.
func journalPrefixEnd() []byte {
	end := append([]byte(nil), journalPrefix...)
	end[len(end)-1]++
	return end
}
