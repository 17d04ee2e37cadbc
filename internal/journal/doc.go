// Package journal implements the append-only, block-structured provenance
// event journal: schema-based binary record encoding, block rotation with
// optional per-block gzip, TOC maintenance for fast seeks, and a per-record
// encryption seam.
//
// # File layout
//
// A journal is a fixed header followed by blocks:
//
//	header: magic "PROVJ" | schema version u8 | flags u8 (bit0: compressed)
//	block:  dense run of record frames, gzip-compressed as a unit when the
//	        compressed flag is set; each block is an independent gzip stream
//
// A record frame is self-delimiting and carries the event id in the clear,
// so TOC seeking works identically for plaintext and encrypted journals:
//
//	frame: event id u64 BE | payload length uvarint | payload | crc32c u32 BE
//
// The payload is either the schema-encoded event fields or, for encrypted
// journals, the envelope produced by the configured Encryptor. Which one is
// decided by the RecordCodec installed on the writer/reader; block and TOC
// framing is identical for both.
//
// # Failure behavior
//
// Once a block is closed it is never rewritten; only the tail block is
// appended to. A truncated trailing frame (crash mid-write) reads back as a
// clean end of stream, never an error. A CRC mismatch or malformed header is
// a CorruptionError carrying the byte offset and block index.
package journal
