// Package repository orchestrates a set of journal files as one provenance
// store: it assigns event ids from a shared allocator, appends to the active
// journal, rolls to a new journal at the configured size or event-count
// threshold, and routes point lookups to the one file that can hold an id.
//
// On startup the allocator is restored from the registry manifest; when the
// manifest is missing or behind, the journals themselves are scanned, since
// they are the source of truth.
package repository
