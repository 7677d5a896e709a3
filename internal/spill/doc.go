// Package spill provides disk-backed, ordered record channels that decouple
// delta computation from delta application.
//
// Each Spill is one SQLite database file holding the records of one
// (type, category) pair for one migration pass:
//   - Write phase: records are appended in emission order, stamped with a
//     monotonic seq from the spill's Clock, and committed in batches
//   - Read phase: after Seal, a Reader streams records ORDER BY seq ASC
//
// # Ordering
//
// Write order is the only ordering. The engine writes records in ascending
// id order, so readers see ascending ids, but the spill does not sort.
//
// # Database Configuration
//
//   - WAL mode: the reader never blocks on the last writer commit
//   - synchronous=OFF: spills are scratch data and are recomputed on rerun
//   - one connection: a spill has exactly one writer, then one reader
//
// Spills are owned by the pass that created them and removed after their
// apply step completes, successfully or not.
package spill
