// Package session binds anonymous browsers to opaque session ids and
// tracks which sessions have authenticated. The marker lives in process
// memory; the session id itself travels as an HttpOnly cookie owned by
// the web layer.
package session
