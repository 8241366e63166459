// Package web exposes the ceremony API over HTTP.
//
// The transport layer is deliberately thin: handlers decode JSON, resolve
// the session cookie, delegate to the ceremony service, and map typed
// errors onto status codes. Verification failures all surface as a single
// generic 400 so error text never reveals which check failed.
package web
