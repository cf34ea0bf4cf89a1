// Package acquisition implements the job scheduling loop of an engine
// instance.
//
// An [Acquirer] locks a bounded batch of due jobs for one node. Each lock
// is a compare-and-swap against the lock state read from the store, so
// two instances polling the same store never both lock a job before its
// lock expires. A job whose swap fails is skipped; the batch carries on.
//
// A [Runner] repeats acquire-and-dispatch: it sizes every batch to the
// free capacity of the worker pool, hands the locked jobs to the pool,
// and sleeps for the configured wait time when nothing is due. [Runner.Hint]
// cuts the sleep short when a due job has just been enqueued.
package acquisition
