// Package scenario runs declarative reactive-graph scenarios.
//
// A scenario builds a small graph from fields, calculations and effects,
// drives it through a list of steps, and checks the outcome:
//
//	name: chain
//	description: "b and c follow a"
//	fields:
//	  - name: a
//	    value: 1
//	calcs:
//	  - name: b
//	    op: sum
//	    args: [a]
//	    add: 10
//	  - name: c
//	    op: sum
//	    args: [b]
//	    add: 100
//	    retain: true
//	effects:
//	  - name: show
//	    args: [c]
//	steps:
//	  - flush: true
//	  - set: a
//	    value: 2
//	  - flush: true
//	assertions:
//	  - type: value
//	    node: c
//	    expect: 112
//
// # Calculation ops
//
//   - value: the value of the first argument
//   - sum: the integer sum of the arguments plus add
//   - concat: the arguments and text joined with spaces
//   - select: reads the first argument, a node name, and returns that node's value
//   - fail: returns an error carrying message
//
// A calculation with on_error returns that value in place of errors and
// cycles.
//
// # Assertion types
//
//   - value: the node's current value equals expect
//   - error: reading the node fails with the given error code
//   - calls: the calculation body ran count times
//   - order: the nodes were recalculated in this relative order
//   - log: the effect log equals lines
//
// Every scenario runs on a fresh engine with sequential flush ids, so traces
// are reproducible and can be compared against golden files.
package scenario
