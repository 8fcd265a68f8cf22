/*
Package security holds the credential primitives the auth layer builds
on: token generation, token hashing, and constant-time comparison.

The rules here are small and absolute:

  - A bearer token is 256 bits of crypto/rand entropy rendered as 64
    lowercase hex characters. The plaintext crosses the wire exactly
    once, at issuance.
  - The truth store only ever holds SHA-256(plaintext) as lowercase
    hex. Validation hashes the presented value and looks the hash up;
    nothing can re-derive the plaintext.
  - The bootstrap token check compares SHA-256 digests with
    crypto/subtle, so neither content nor length differences leak
    through timing.

# Usage

	plaintext, err := security.NewToken()
	if err != nil {
		return err
	}
	stored := security.HashToken(plaintext)   // persist this
	// ... later, validating a presented bearer:
	match := security.HashToken(presented) == stored

Anything above these primitives — scopes, expiry, revocation, the
resolution order of bearer kinds — lives in pkg/auth.
*/
package security
