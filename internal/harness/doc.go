// Package harness runs reconciliation scenarios end to end against
// in-memory stacks.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: overlap
//	description: "What this scenario validates"
//	options:
//	  batch_size: 2
//	  delta_mode: full
//	failures:
//	  apply_ids: [3]
//	  destination: { rows/range: 3 }
//	source:
//	  types: [PRINCIPAL, NODE]
//	  status: READ_ONLY
//	  records:
//	    NODE: ["1@a", "2@b", "3"]
//	destination:
//	  types: [PRINCIPAL, NODE]
//	  records:
//	    NODE: ["2@b", "4@d"]
//	assertions:
//	  - type: outcome
//	    outcome: success
//	  - type: converged
//
// A record is written "id@etag", or "id" alone for a null etag.
//
// # Assertion Types
//
//   - outcome: the driver succeeded or failed, optionally with an error substring
//   - converged: destination records equal the source's
//   - status_log: the destination's status changes
//   - delta_counts: the computed delta for one type
//   - apply_count: successful apply calls for one type and category
//
// # Deterministic Testing
//
// Every run uses a fixed checksum salt, immediate retries and fresh stacks,
// so the destination's apply trace is identical across runs and can be
// compared against golden files with RunWithGolden.
package harness
