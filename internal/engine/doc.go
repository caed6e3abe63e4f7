// Package engine runs small workflow graphs: named nodes with
// prepare/execute/finalize phases joined by labelled edges. Wiring is
// validated once when the graph is built, so a run can only fail because a
// node failed.
package engine
