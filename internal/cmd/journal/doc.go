// Package journalcmd implements the journal inspection subcommands of the
// nifi CLI: dump (records as JSON lines, optionally decrypted and filtered
// with a CEL expression), verify (block and record census, first corruption
// point), and toc (index listing and consistency check).
package journalcmd
