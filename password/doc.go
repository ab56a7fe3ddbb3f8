// Package password hashes and verifies admin secrets with Argon2id.
//
// The same [Argon2] instance hashes passwords, CLI tokens, emergency and
// recovery tokens, password-reset tokens and 2FA recovery codes.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes produced with weaker parameters still verify, and
// [Argon2.NeedsRehash] reports them so the caller can re-hash after the
// next successful check.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password length policy is
// enforced by the Engine.
package password
