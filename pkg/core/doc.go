// Package core defines the shared types of the pg-boss module: jobs,
// queues, their state machines, sentinel errors, and the events the
// manager emits to subscribers.
package core
