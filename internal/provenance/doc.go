// Package provenance defines the lineage event model persisted by the
// journal engine.
//
// An EventRecord is an immutable snapshot of one data-flow action: who
// touched which flowfile, when, and how. Records receive their id from the
// shared allocator at write time and are never mutated afterwards; deletion
// happens only by whole-journal retirement.
package provenance
