// Package challenge tracks outstanding ceremony challenges between the
// start and finish calls of a registration or login.
//
// Entries are keyed by the browser session id and consumed with pop
// semantics: one atomic read-and-delete per ceremony. A second finish for
// the same session, concurrent or later, observes no pending challenge.
// Entries expire after a TTL so abandoned ceremonies don't grow the cache
// without bound.
package challenge
