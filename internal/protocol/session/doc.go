// Package session owns one connected-device protocol session.
//
// Ownership boundary:
// - transport capability contract consumed by the host
// - weight transfer engine (chunked get/set)
// - remote operation dispatcher (classify, train, benchmarks)
// - notification accumulation state and its producer/consumer handoff
//
// A Session admits one outstanding operation at a time. Notification callbacks
// are the only producers of accumulated state; operations are the only
// consumers. Both sides go through the buffer locks.
package session
