package testutil

// FixedSalt returns a salt generator that always yields the same salt.
//
// Passes that share a salt compute identical range checksums, which keeps
// checksum call counts and golden traces reproducible.
//
// If salt is empty, the generator returns "test-salt".
func FixedSalt(salt string) func() string {
	if salt == "" {
		salt = "test-salt"
	}
	return func() string {
		return salt
	}
}
