package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used by NewPasswordHasher.
const DefaultBcryptCost = 12

// PasswordHasher hashes and verifies passwords with bcrypt.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher creates a PasswordHasher with DefaultBcryptCost.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{cost: DefaultBcryptCost}
}

// NewPasswordHasherWithCost creates a PasswordHasher with the given cost,
// clamped to bcrypt's accepted range.
func NewPasswordHasherWithCost(cost int) *PasswordHasher {
	cost = max(bcrypt.MinCost, min(cost, bcrypt.MaxCost))
	return &PasswordHasher{cost: cost}
}

// Hash returns the bcrypt hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether password matches hash.
func (h *PasswordHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
