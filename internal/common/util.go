package common

import (
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"slices"
	"strings"
)

// MakeRandHexString generates a random hexadecimal string of the given size.
// The size parameter specifies the number of random bytes to generate before
// encoding them, so the resulting string is twice as long.
//
// It returns an error if the random number generator fails.
func MakeRandHexString(size int) (string, error) {

	b := make([]byte, size)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// IsAllowedRawFile reports whether filename carries one of the accepted RAW
// extensions. The comparison is case-insensitive.
func IsAllowedRawFile(filename string) bool {
	return slices.Contains(AllowedRawExtensions, strings.ToLower(filepath.Ext(filename)))
}
