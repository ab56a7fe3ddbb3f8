// Package session manages admin login sessions on top of a relational
// [Repository].
//
// # Lifecycle
//
// A session is created either pending (second factor outstanding, fixed
// short life) or active. Active sessions expire at a fixed time; a session
// whose last activity falls in the extension window just before expiry is
// extended once by compare-and-swap on its stored expiry, so concurrent
// requests never extend it twice.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does not verify
// credentials or second factors; the Engine does.
package session
