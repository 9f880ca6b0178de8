package auth

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,30}$`)

	// The password must be 8+ characters drawn from letters, digits and
	// !@#$%^&*, containing at least one of each class.
	passwordCharset = regexp.MustCompile(`^[A-Za-z0-9!@#$%^&*]{8,}$`)
	passwordLower   = regexp.MustCompile(`[a-z]`)
	passwordUpper   = regexp.MustCompile(`[A-Z]`)
	passwordDigit   = regexp.MustCompile(`[0-9]`)
	passwordSpecial = regexp.MustCompile(`[!@#$%^&*]`)
)

// ValidateUsername checks the 3–30 character [A-Za-z0-9._-] rule.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return apperror.Invalid(apperror.CodeInvalidUsername, "username",
			"username must be 3-30 characters of letters, digits, '.', '_' or '-'")
	}
	return nil
}

// ValidatePassword checks password strength and the bcrypt length limit.
// The allowed characters are all ASCII, so bytes and characters agree.
func ValidatePassword(password string) error {
	if len(password) > MaxPasswordBytes {
		return apperror.Invalid(apperror.CodeWeakPassword, "password",
			"password must be at most 72 characters")
	}
	if !passwordCharset.MatchString(password) ||
		!passwordLower.MatchString(password) ||
		!passwordUpper.MatchString(password) ||
		!passwordDigit.MatchString(password) ||
		!passwordSpecial.MatchString(password) {
		return apperror.Invalid(apperror.CodeWeakPassword, "password",
			"password must be at least 8 characters with upper and lower case letters, a digit and one of !@#$%^&*")
	}
	return nil
}

// ValidateEmail accepts a bare address ("a@b.c"), not a display-name form.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return apperror.Invalid(apperror.CodeInvalidEmail, "email", "email address is not valid")
	}
	return nil
}

// ValidateSignUp runs the local checks in their fixed order: username,
// password strength, confirmation, email. The first failure wins.
func ValidateSignUp(username, email, password, confirmPassword string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if password != confirmPassword {
		return apperror.Invalid(apperror.CodePasswordMismatch, "confirmPassword", "passwords do not match")
	}
	return ValidateEmail(email)
}
