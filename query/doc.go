// Package query is an incremental, memoizing query engine.
//
// A Database holds input cells and tracked functions. Inputs are set from
// outside; tracked functions compute derived values from inputs and from
// other tracked functions. Every read made while a tracked function runs is
// recorded, so the engine knows exactly what each memoized value depends on.
//
// Writing an input advances the database revision. Memoized values are not
// thrown away on a write; the next read verifies them instead:
//
//   - a value already verified at the current revision is returned as is;
//   - otherwise each recorded dependency is brought up to date, and if none
//     of them changed since it was read, the old value is reused;
//   - otherwise the function runs again. When the new value equals the old
//     one, the value keeps its old change revision and callers that depend on
//     it are spared a re-execution.
//
// Usage:
//
//	db := query.New()
//	text := query.NewInput(db, "hello")
//	length := query.NewTracked(db, "length", func(rt *query.Runtime, _ struct{}) (int, error) {
//		return len(text.Get(rt)), nil
//	})
//
//	n, err := length.Get(db, struct{}{}) // runs
//	text.Set(db, "world")
//	n, err = length.Get(db, struct{}{}) // runs again, but readers of length see no change
//
// Tracked functions may bound their memo tables with WithLRU. Cycles between
// queries are reported as ErrCycle instead of deadlocking.
//
// A Database or Snapshot handle runs one read chain at a time: a read made
// through the handle from inside one of its computations joins the running
// chain, so its dependencies are recorded and a cycle through it is reported.
// Concurrent readers each take their own Snapshot, or a Fork of a shared one.
// Writes wait for all snapshots to close and panic while a read is executing.
package query
