// Package panelauth is the authentication and session security core of a
// single-tenant admin panel: password login with progressive lockout,
// second factors (TOTP, delivered codes, recovery codes), sliding sessions
// with CSRF tokens, a CLI token hierarchy with emergency bypass, master
// account recovery, password reset, and an encrypted settings store.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. Every invariant that spans requests (failed-attempt
// counters, one-time token consumption, session extension, TOTP replay) is
// enforced by a single atomic repository operation, never by a read in
// this package followed by a write.
//
// # Architecture boundaries
//
// panelauth is the public surface. It exposes [Engine], [Builder],
// [Config] and value types. Persistence contracts live in storage and
// session; the Redis throttle and audit dispatch live under internal/.
//
// # Audit
//
// Routine events are queued on a bounded asynchronous dispatcher.
// Security-critical events (lockout, token issuance and use, 2FA removal,
// secret corruption) are written synchronously and the operation fails
// when the write fails.
package panelauth
