// Package rangefinder decodes the serial frame stream of the door-side
// laser distance sensor into validated distance readings.
//
// The sensor pushes fixed 9-byte frames continuously. The decoder does
// not track the stream between access attempts: each attempt flushes
// stale bytes, waits for a fresh frame, and scans within a bounded time
// budget. A failed acquisition yields a sentinel that callers must
// treat as "too far", never as success.
//
// The serial device is reached through the narrow Link interface so
// tests can feed scripted byte streams, corrupted checksums included.
package rangefinder
