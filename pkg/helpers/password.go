package helpers

import "golang.org/x/crypto/bcrypt"

// BcryptCost trades login latency for offline brute-force resistance;
// 12 lands in the tens-of-milliseconds range on current hardware.
const BcryptCost = 12

// HashPassword hashes the plain text password using bcrypt. Each call embeds
// a fresh random salt, so two hashes of the same plaintext never compare equal.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CompareHashAndPassword compares a bcrypt hash with a plain password.
// A mismatch is false, never an error.
func CompareHashAndPassword(hash string, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
