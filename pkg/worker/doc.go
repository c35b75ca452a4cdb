// Package worker implements the per-queue polling runtime: a worker
// sleeps on its interval or a notify signal, claims a batch, runs the
// user handler under the batch's wall-clock deadline, and reports the
// outcome. The handler is never cancelled on timeout — the worker only
// stops waiting for it.
package worker
