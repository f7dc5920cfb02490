// Package core loads tabular rows into a relational table whose definition
// is reconciled against an expected column specification.
//
// This package holds the load engine independent of any transport. The CLI,
// the HTTP API and tests all drive it through [Service.Load].
//
// # Load Flow
//
// One call to [Service.Load] runs these steps in order:
//
//  1. Validate the request and take a limiter slot and the per-table lock
//  2. Append the system loaded-at column ([LoadedAtColumn]) to the column spec
//  3. Create the namespace if missing and snapshot the live table
//  4. Reconcile: MATCH reuses the table (truncated unless appending), any
//     other verdict drops and rebuilds it, then widens unbounded text
//     columns the store created as bounded
//  5. Sanitize datetime columns ([Sanitize]) and coerce the remaining cells
//  6. Write through the tier cascade: bulk copy, chunked insert, single insert
//  7. On failure, build a [DiagnosticReport] naming likely bad columns
//
// Load never returns an error. Every outcome, including partial chunk
// commits, is reported in the [LoadResult] message.
//
// # Tier Cascade
//
// Bulk copy runs only when the store implements [store.BulkCopier] and it is
// enabled. Its failure is recorded and the cascade falls through. The chunked
// tier runs when the row count exceeds [PipelineConfig.ChunkThreshold]; a
// failed chunk ends the cascade with the earlier chunks committed. Smaller
// loads go through one single-shot transactional insert.
//
// # Error Handling
//
// Technical errors are mapped to operator messages using [MapError]. Each
// category has a code for support reference:
//
//   - ERR101-ERR105: connectivity (unreachable, login, interrupted, deadlock, timeout)
//   - ERR201-ERR203: schema operations (namespace, table rebuild, truncate)
//   - ERR301-ERR306: data (too long, dates, overflow, conversion, nulls, duplicates)
//   - ERR311-ERR315: input files (CSV, encoding, missing, empty, unknown type)
//   - ERR401-ERR402: permissions
//   - ERR501-ERR505: limits (busy, cancelled, deadline, file size, rate limit)
//
// ERR000 is the fallback for unrecognized errors.
package core
