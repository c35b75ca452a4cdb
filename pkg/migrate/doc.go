// Package migrate holds the versioned schema migration chain and the
// logic that turns it into executable plans. Each migration declares
// its version, its predecessor, and paired install/uninstall statement
// lists. Plans are wrapped with a version assertion, a version bump,
// and a session advisory lock so concurrent migrators serialize.
package migrate
