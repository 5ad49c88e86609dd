package security

import (
	"golang.org/x/crypto/bcrypt"
)

// dummyDigest is compared against when the user does not exist so that
// unknown usernames cost the same as wrong passwords.
var dummyDigest, _ = bcrypt.GenerateFromPassword([]byte("fintrack-dummy-password"), bcrypt.MinCost)

// PasswordVault hashes and verifies passwords with bcrypt.
type PasswordVault struct {
	cost int
}

// NewPasswordVault returns a vault using the given bcrypt cost, clamped to the
// range bcrypt accepts. A non-positive cost selects bcrypt.DefaultCost.
func NewPasswordVault(cost int) *PasswordVault {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &PasswordVault{cost: cost}
}

// Hash returns the bcrypt digest of password.
func (v *PasswordVault) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether password matches digest. An empty digest runs a
// comparison against a throwaway digest and always fails.
func (v *PasswordVault) Verify(password, digest string) bool {
	if digest == "" {
		_ = bcrypt.CompareHashAndPassword(dummyDigest, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}
