// Package password hashes and verifies portal credentials with argon2id,
// serialized in the standard PHC string format. Verification recomputes the
// hash with the parameters embedded in the stored string, so cost upgrades
// never invalidate existing hashes.
package password
