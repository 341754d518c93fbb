// Package accesskey protects the relay with a shared access key.
//
// Operators generate a key, store only its Argon2id hash (PHC string) in
// RTB_RELAY_ACCESS_KEY_HASH, and hand the key to trusted browser clients.
// Hash strings are treated as untrusted input: Verify refuses parameters far
// above the configured cost.
package accesskey
