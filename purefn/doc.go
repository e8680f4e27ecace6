// Package purefn memoizes pure functions on top of the query engine.
//
// Tableize is a question before it is an optimization:
//
//	→ "Is this function really pure?"
//	→ "Can this computation be treated as a lazy table?"
//
// A tableized function reads no inputs, so the engine treats it as a constant
// query: once a row is computed it stays valid forever and only the LRU bound
// can drop it.
//
// Features:
//   - TableizeI1O1 to TableizeI4O2: Typed, generic memoizers for common arities.
//   - Each tableized function is a constant query on its own database, bounded by an LRU table.
//   - Concurrent callers asking for the same arguments share one execution.
//   - Arguments are keyed by value, or by String() when they are not comparable.
//
// See tableize_test.go and tableize_bench_test.go for usage and benchmarks.
//
// WARNING: Do not use Tableize on impure functions (e.g., those depending on time, I/O, etc).
package purefn
