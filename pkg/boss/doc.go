// Package boss hosts the manager: the long-lived facade owning the
// connection pool, the queue registry and its metadata cache, the
// worker registry, send variants (plain, scheduled, throttled,
// debounced), pub/sub fan-out, maintenance sweeps, and event emission.
package boss
