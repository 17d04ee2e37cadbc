// Package sequence provides the shared event-id allocator for a journal set.
//
// # Monotonicity
//
// Every writer operating on the same journal set must hold the same
// *Allocator. Next is a single atomic increment, so ids are pairwise
// distinct and strictly increasing across any number of goroutines. An id
// consumed by a write that later fails is permanently skipped; readers treat
// gaps as normal.
//
// # Restore
//
// A fresh set starts at zero. When journal files already exist, construct
// the allocator from the highest id observed on disk:
//
//	alloc := sequence.NewAllocatorAt(maxSeen + 1)
//	id := alloc.Next()
package sequence
