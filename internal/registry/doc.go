// Package registry keeps the durable manifest of journal files in a Pebble
// keyspace: which files exist, the event id range each one covers, and
// whether it is sealed. The repository consults it to restore the event id
// allocator after a restart and to route a lookup to the one journal that
// can contain a given id.
//
// The manifest is bookkeeping over whole files, never over record content;
// journals themselves stay the source of truth.
package registry
