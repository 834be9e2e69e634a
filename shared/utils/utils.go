package utils

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ID prefixes, one per persisted collection.
const (
	PrefixAccount    = "acc"
	PrefixDeposit    = "dep"
	PrefixWithdrawal = "wdr"
	PrefixCredit     = "crd"
	PrefixKYC        = "kyc"
	PrefixReferral   = "ref"
	PrefixPosition   = "pos"
	PrefixJournal    = "jrn"
)

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 8

// GenerateID generates a unique ID with the given prefix
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// HasPrefix reports whether id was generated with prefix.
func HasPrefix(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"-")
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword checks if a password matches a hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// StrongPassword requires at least MinPasswordLength characters and one
// uppercase letter.
func StrongPassword(password string) bool {
	if len(password) < MinPasswordLength {
		return false
	}
	for _, r := range password {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// NormalizeEmail lowercases and trims an email for lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
