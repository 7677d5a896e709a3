// Package engine implements the stacksync reconciliation engine.
//
// The engine brings a destination stack in line with a source stack using
// only each stack's paginated metadata API: (id, etag) pairs in ascending
// id order, plus salted checksums over id ranges.
//
// ARCHITECTURE:
//
// Compute phase (sequential per type):
//  1. DeltaFinder splits the id space into insert-only, delete-only and
//     merge ranges, bisecting mismatching ranges down to the batch size.
//  2. Insert-only and delete-only ranges are copied straight into the
//     create and delete spills.
//  3. Merge runs a two-cursor merge-join over each merge range and emits
//     creates, updates and deletes.
//
// Apply phase (ordered):
// 1. Deletes, in reverse dependency order.
// 2. Creates, in forward dependency order.
// 3. Updates, in forward dependency order.
//
// Each step is one task on the worker pool and must finish before the next
// step starts, so every delete lands before any create or update.
//
// Driver wraps a pass: the destination is flipped to READ_ONLY first and
// always flipped back to READ_WRITE on the way out.
//
// INVARIANTS:
//   - Iterators yield strictly ascending ids; a violation is an error.
//   - Every id range is processed by exactly one merge instance.
//   - A type's spills are sealed before any worker reads them.
//   - Only metadata crosses the wire during comparison.
package engine
