// Package jwt issues and verifies short-lived HS256 grants that let an
// operator reuse one CLI-token verification for a batch of commands. The
// signing key is read on every call so rotating the HMAC secret revokes
// outstanding grants.
package jwt
