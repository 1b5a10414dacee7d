package devicestore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// deviceCodeBytes gives 64 hex characters of device code
	deviceCodeBytes = 32

	// userCodeCharset excludes vowels and easily-confused characters per
	// RFC 8628 section 6.1
	userCodeCharset = "BCDFGHJKLMNPQRSTVWXZ"

	// userCodeGroupSize is the number of characters per user code group
	userCodeGroupSize = 4
)

// NewDeviceCode generates a cryptographically random device code
func NewDeviceCode() (string, error) {
	buf := make([]byte, deviceCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating device code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewUserCode generates a user-friendly code in XXXX-XXXX form using the
// restricted charset of RFC 8628 section 6.1
func NewUserCode() (string, error) {
	var b strings.Builder
	for group := 0; group < 2; group++ {
		if group > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < userCodeGroupSize; i++ {
			c, err := randomChar(userCodeCharset)
			if err != nil {
				return "", fmt.Errorf("generating user code: %w", err)
			}
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// randomChar picks one character from charset with rejection sampling to
// avoid modulo bias
func randomChar(charset string) (byte, error) {
	max := 256 - (256 % len(charset))
	buf := make([]byte, 1)
	for {
		if _, err := rand.Read(buf); err != nil {
			return 0, err
		}
		if int(buf[0]) < max {
			return charset[int(buf[0])%len(charset)], nil
		}
	}
}
