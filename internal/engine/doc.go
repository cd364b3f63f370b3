// Package engine implements the reactive calculation layer on top of the
// dependency graph.
//
// ARCHITECTURE:
//
// An Engine owns one graph.Graph and the stack of calculations currently
// executing. Reading a Field, Model key, Collection position or another Calc
// from inside a Calc body records a hard edge into the reader; writing one
// marks its node dirty and notifies subscribers that a flush is due.
//
// Flush walks the dirty nodes that some retained node depends on, in
// topological order:
//  1. Each calculation is invalidated and recomputed.
//  2. If the result is equal to the one its dependents last saw, nothing
//     downstream is dirtied.
//  3. Dependencies discovered during a recompute are staged and merged by
//     the graph before the next visit, which may reorder nodes or form and
//     break cycles.
//
// Cycles:
// A calculation that reads itself, directly or through others, gets a CYCLE
// error. With an OnError handler the handler's value is cached instead and
// dependents outside the loop see it as an ordinary value.
//
// Threading:
// An Engine is single-threaded. Loop owns an Engine on one goroutine and
// accepts work from others.
//
// Determinism:
// Node ids are allocated in creation order and every traversal is ordered by
// topological index, so identical programs produce identical flushes. Flush
// ids and event sequence numbers come from injectable generators.
package engine
