package validator

import (
	"errors"
	"regexp"
	"strings"

	"agentdesk/internal/models"
)

var (
	ErrInvalidEmail         = errors.New("invalid email")
	ErrInvalidUsername      = errors.New("invalid username")
	ErrInvalidPassword      = errors.New("invalid password")
	ErrInvalidBankName      = errors.New("invalid bank name")
	ErrInvalidAccountNumber = errors.New("account number must be 10 digits")
	ErrInvalidAccountName   = errors.New("invalid account name")
)

var (
	emailRegex         = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	usernameRegex      = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)
	accountNumberRegex = regexp.MustCompile(`^\d{10}$`)
)

func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

// ValidateAccountDetails checks a payout account (NUBAN account number).
func ValidateAccountDetails(details models.AccountDetails) error {
	if name := strings.TrimSpace(details.BankName); name == "" || len(name) > 100 {
		return ErrInvalidBankName
	}
	if !accountNumberRegex.MatchString(details.AccountNumber) {
		return ErrInvalidAccountNumber
	}
	if name := strings.TrimSpace(details.AccountName); name == "" || len(name) > 150 {
		return ErrInvalidAccountName
	}
	return nil
}
