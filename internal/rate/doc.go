// Package rate provides Redis fixed-window counters used to throttle
// unauthenticated entry points before they reach the relational store.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit of a window. Key prefixes:
//   - pa:ip:  login attempts per client IP
//   - pa:tok: token verification attempts per client IP
//   - pa:otp: delivered-code sends per user
//
// The per-account lockout lives in the users table; this package only
// slows down spraying across accounts.
package rate
