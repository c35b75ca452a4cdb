// Package plans builds the parameterized SQL for every queue and job
// operation. Functions here are pure: given a schema (and, where it
// matters, a table name) they return SQL text with positional
// parameters and never touch a connection.
package plans
