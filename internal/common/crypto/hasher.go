package crypto

import (
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/boxchat/authd/internal/common/constants"
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash string, password string) error
}

type BcryptHasher struct{}

func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(truncatePassword(password), 12)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h *BcryptHasher) Compare(hash string, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), truncatePassword(password))
}

// truncatePassword cuts the UTF-8 encoding of password to at most 72
// bytes, the bcrypt input bound. A multi-byte rune straddling the
// boundary is discarded entirely so hashing and verification always see
// the same prefix.
func truncatePassword(password string) []byte {
	b := []byte(password)
	if len(b) <= constants.PasswordMaxBytes {
		return b
	}

	b = b[:constants.PasswordMaxBytes]
	for len(b) > 0 {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return b
}
