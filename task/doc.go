// Package task implements the claim and complete state machine of human
// tasks.
//
//	created ──claim(user)──▶ claimed ──complete──▶ completed
//	   ▲                        │
//	   └──────claim("")─────────┘
//
// Completing is also allowed straight from created. Claiming a task that
// is already claimed records the new assignee; the last writer wins.
//
// Completion writes the supplied variables to the task's execution and
// enqueues the jobs returned by the [Continuation] in the same store
// transaction as the state change. A failure anywhere leaves the task in
// its previous state with no variables applied.
package task
