// Package toc maintains the table-of-contents companion file for a journal.
//
// A TOC maps block index to the block's starting byte offset in the journal
// file, plus the first event id written into that block. With ids strictly
// increasing, locating the block for a target id is a binary search over the
// entries, after which the caller scans records inside the block.
//
// The TOC is an optimization index, never a source of truth: a missing or
// truncated TOC degrades the reader to a full linear scan of the journal.
//
// # File format
//
//	[version u8][compressed u8]
//	repeated: [block offset u64 BE][first event id u64 BE]
//
// Entries are appended when the journal writer opens a new block, and synced
// before any record of that block reaches the journal, so a reader never
// sees a TOC entry for a block that is not at least started on disk.
package toc
