// Package store executes the SQL plans against a pgx connection pool.
// It owns transport concerns: scanning rows into core types, absorbing
// the unique-index conflicts that throttle and singleton policies
// produce by design, and running migration plans on a single
// connection so the session advisory lock holds across statements.
package store
