// Password hashing and the account password policy.
//
// bcrypt is deliberately slow and salts every hash; the salt and cost are
// embedded in the output ($2a$12$<salt><hash>), so one column stores all of
// it. Never store passwords with a fast hash like SHA-256.
package auth

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/ecoloop/internal/apperror"
)

// defaultCost is the bcrypt work factor used in production, about 250ms
// per hash on current hardware.
const defaultCost = 12

const (
	MinPasswordLen = 8
	// MaxPasswordLen is bcrypt's input limit. Longer input would be silently
	// truncated, so it is rejected instead.
	MaxPasswordLen = 72
)

// PasswordService hashes and verifies passwords. The cost is a field so
// tests can use bcrypt.MinCost.
type PasswordService struct {
	cost int
}

func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest returns a service with a custom (low) cost.
// Do not use it outside tests.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordLen {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordLen)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash. The comparison is
// constant time. An empty hash (GitHub-only accounts) never matches.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if hash == "" {
		return errors.New("auth: account has no password")
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return errors.New("auth: invalid password")
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// ValidatePolicy checks the account password rules: 8 to 72 bytes with at
// least one lowercase letter, one uppercase letter, one digit and one
// character that is none of those.
func ValidatePolicy(password string) error {
	if len(password) < MinPasswordLen {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", MaxPasswordLen))
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsSpace(r):
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		return apperror.ValidationFailed("password",
			"password must contain an uppercase letter, a lowercase letter, a number and a special character")
	}
	return nil
}
