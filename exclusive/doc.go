// Package exclusive provides per-instance mutual exclusion for job
// execution.
//
// A [Locker] hands out a TTL token keyed by a process or case instance ID.
// While one job of an instance holds the token, other jobs of the same
// instance are turned away and retried on a later acquisition cycle. The
// token expires on its own if the holder crashes.
//
// [MemoryLocker] serializes jobs within one engine process. [RedisLocker]
// serializes them across every engine instance sharing a Redis server.
package exclusive
