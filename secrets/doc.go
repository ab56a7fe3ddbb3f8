// Package secrets seals values that must be stored encrypted and read back
// later: enrolled TOTP secrets, the obscured admin base path and the HMAC
// secret.
//
// Ciphertexts are AES-256-GCM with a fresh 96-bit nonce per call, laid out
// as nonce ‖ tag ‖ payload and base64-encoded. Decryption verifies the tag
// before any plaintext is released; tampered input or the wrong key yields
// [ErrDecrypt].
package secrets
