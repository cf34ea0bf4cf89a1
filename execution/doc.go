// Package execution defines process and case executions, the case
// execution state machine, and the store contract the query engine reads
// through.
//
// # States
//
// Case executions move between three states:
//
//	enabled  → active     (manual start)
//	enabled  → disabled   (disable)
//	disabled → enabled    (re-enable)
//
// Active is never left through this package; completing an activity is a
// concern of the process layer. Every transition is applied as a
// compare-and-swap on the stored state, so two concurrent callers cannot
// both move the same execution.
//
// # Scopes
//
// Variables are scoped to an execution ID. An execution's local variables
// live under its own ID; the variables of its process or case instance live
// under [Execution.InstanceScope].
package execution
