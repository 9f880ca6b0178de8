// PASSWORD HASHING
//
// Principals created by the local provider store a bcrypt hash. The salt and
// cost are embedded in the hash string, so a single column is enough:
//
//	$2a$12$<22-char salt><31-char hash>

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used when the configured cost is zero.
const DefaultBcryptCost = 12

// MaxPasswordBytes is bcrypt's input limit.
const MaxPasswordBytes = 72

// ErrWrongPassword is returned by Verify when the hash does not match.
var ErrWrongPassword = errors.New("auth: invalid password")

// PasswordService provides bcrypt hashing and verification.
// Tests use the minimum cost (bcrypt.MinCost) to keep runs fast.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService. A zero cost selects
// DefaultBcryptCost; anything outside bcrypt's range is clamped.
func NewPasswordService(cost int) *PasswordService {
	switch {
	case cost == 0:
		cost = DefaultBcryptCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &PasswordService{cost: cost}
}

// Hash hashes plaintext with bcrypt.
//
// bcrypt silently truncates input past 72 bytes, so longer passwords are
// rejected instead of being accepted with a weaker effective secret.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", fmt.Errorf("auth: password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash and ErrWrongPassword when it
// does not. The comparison is constant-time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrWrongPassword
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
