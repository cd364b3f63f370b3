// Package graph implements the dependency graph underneath the ripple engine.
//
// The graph stores nodes by integer identity with forward and reverse
// adjacency maps (node id -> edge-kind bitmask) and maintains a total
// topological order over every live node.
//
// ARCHITECTURE:
//
// Staged Mutation:
// AddNode, RemoveNode, AddEdge and RemoveEdge never touch the applied graph
// directly. They append to a pending operation log that is applied as one
// batch at well-defined checkpoints: at the start of Process, after every
// node (or cycle group) visit, and on Commit. Callbacks running inside
// Process can therefore add and remove edges freely without invalidating
// the traversal.
//
// Incremental Order:
// Inserting an edge u->v that contradicts the current order triggers a
// bounded Pearce-Kelly style repair confined to the index window
// [index(v), index(u)]. If the forward search from v reaches u the edge
// closed a cycle; the strongly connected component containing v is
// materialized as a cycle record and placed contiguously in the order.
//
// Cycle Records:
// Nodes of a cycle record occupy a contiguous index range and are visited
// together. Removing an edge inside a record re-runs Tarjan's algorithm over
// the former members; sub-components that are still cyclic become new
// records and freed singletons are marked dirty.
//
// Process:
// Process repeatedly picks the lowest-index dirty node that can reach a
// retained node, hands it (or its whole cycle group) to the caller's
// ProcessFunc, then applies the operations staged during that callback. When
// the applied batch reorders nodes ahead of the previous position, the next
// pick naturally rewinds. Dirty nodes that cannot reach a retained node are
// invalidated transitively at the end of the pass and dropped.
//
// The graph is not safe for concurrent use. The engine owns it from a single
// goroutine.
package graph
