package bootscript

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	upper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lower   = "abcdefghijklmnopqrstuvwxyz"
	digits  = "0123456789"
	charset = upper + lower + digits

	// MinPasswordLength is the shortest password GeneratePassword accepts.
	MinPasswordLength = 20
)

// GeneratePassword draws a password of length n from crypto/rand. The result
// always contains an upper-case letter, a lower-case letter and a digit.
func GeneratePassword(n int) (string, error) {
	if n < MinPasswordLength {
		return "", fmt.Errorf("password length %d is below minimum %d", n, MinPasswordLength)
	}

	max := big.NewInt(int64(len(charset)))
	buf := make([]byte, n)
	for {
		for i := range buf {
			idx, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("failed to read random source: %w", err)
			}
			buf[i] = charset[idx.Int64()]
		}
		pw := string(buf)
		if strings.ContainsAny(pw, upper) && strings.ContainsAny(pw, lower) && strings.ContainsAny(pw, digits) {
			return pw, nil
		}
	}
}

// NewLocalAccount creates a local account with a fresh random password.
func NewLocalAccount(username string) (*LocalAccount, error) {
	pw, err := GeneratePassword(MinPasswordLength + 4)
	if err != nil {
		return nil, err
	}
	return &LocalAccount{Username: username, Password: pw}, nil
}
