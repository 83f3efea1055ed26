// Package engine fans one query template out across every parameter
// combination and runs the bound queries against a store session.
//
// ARCHITECTURE:
//
// Bounded Worker Pool:
// Run pulls combinations from a lazy sequence and submits one task per
// combination to a pool of P workers. Submission blocks while all P workers
// are busy, so at most P tasks are Running and the product is never held in
// memory.
//
// Task Lifecycle:
//  1. Pending: combination pulled from the generator
//  2. Running: a worker binds it to the template and executes it
//  3. Completed: the ResultSet was handed to the Sink and accepted
//  4. Failed: bind, execution or encoding failed; the Sink gets the error
//
// Failures are isolated to their task. Under FailContinue (the default) the
// run carries on; under FailAbort no new tasks start after the first
// failure, but tasks already Running still reach a terminal state.
//
// Run returns only after every submitted task is terminal.
package engine
