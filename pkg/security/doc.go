// Package security provides validation, sanitization, and limits for
// queue names, job payloads, and stored error messages.
package security
