// Package password hashes and verifies account passwords.
//
// # Output format
//
// New hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Every stored hash carries the parameters it was produced with, so raising the
// configured cost never invalidates existing hashes. [Hasher.NeedsUpgrade]
// reports hashes produced with weaker parameters (or by the legacy bcrypt
// scheme) so the caller can re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. It does not store
// passwords, import other authcore packages, or log plaintext.
package password
