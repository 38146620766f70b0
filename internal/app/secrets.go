package app

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

// CharsetOptions selects the character classes a generated password draws
// from. At least one class must be enabled.
type CharsetOptions struct {
	IncludeLowercase           bool
	IncludeUppercase           bool
	IncludeNumbers             bool
	IncludeSymbols             bool
	ExcludeAmbiguousCharacters bool
}

const (
	lowercaseChars = "abcdefghijklmnopqrstuvwxyz"
	uppercaseChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numberChars    = "0123456789"
	symbolChars    = "!#$%&*+-=?@^_"

	// Characters easily confused when read or transcribed.
	ambiguousChars = "Il1O0o"
)

// DatabasePasswordOptions is the default charset for tenant database
// passwords: no symbols (connection-string safety) and no ambiguous
// characters.
var DatabasePasswordOptions = CharsetOptions{
	IncludeLowercase:           true,
	IncludeUppercase:           true,
	IncludeNumbers:             true,
	ExcludeAmbiguousCharacters: true,
}

// GeneratePassword produces a random password of the given length from a
// cryptographically secure source. Each enabled class contributes at
// least one character when length allows.
func GeneratePassword(length int, opts CharsetOptions) (string, error) {
	if length <= 0 {
		return "", &domain.InvalidConfigurationError{Reason: fmt.Sprintf("password length must be positive, got %d", length)}
	}

	var classes []string
	if opts.IncludeLowercase {
		classes = append(classes, lowercaseChars)
	}
	if opts.IncludeUppercase {
		classes = append(classes, uppercaseChars)
	}
	if opts.IncludeNumbers {
		classes = append(classes, numberChars)
	}
	if opts.IncludeSymbols {
		classes = append(classes, symbolChars)
	}
	if len(classes) == 0 {
		return "", &domain.InvalidConfigurationError{Reason: "no character classes enabled"}
	}

	if opts.ExcludeAmbiguousCharacters {
		for i, class := range classes {
			classes[i] = stripAmbiguous(class)
		}
	}

	pool := strings.Join(classes, "")
	out := make([]byte, length)

	// Seed one character per enabled class so the output satisfies the
	// requested class membership, then fill the rest from the full pool.
	pos := 0
	for _, class := range classes {
		if pos >= length {
			break
		}
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out[pos] = c
		pos++
	}
	for ; pos < length; pos++ {
		c, err := randomChar(pool)
		if err != nil {
			return "", err
		}
		out[pos] = c
	}

	if err := shuffle(out); err != nil {
		return "", err
	}

	return string(out), nil
}

// GenerateSigningKey produces a 256-bit key encoded as unpadded
// base64url, suitable for HMAC signing.
func GenerateSigningKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}

func stripAmbiguous(class string) string {
	var b strings.Builder
	for _, r := range class {
		if !strings.ContainsRune(ambiguousChars, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func randomChar(pool string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool))))
	if err != nil {
		return 0, fmt.Errorf("reading random index: %w", err)
	}
	return pool[n.Int64()], nil
}

// shuffle performs a Fisher-Yates shuffle using the crypto source, so the
// per-class seed characters do not sit at predictable positions.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("reading random index: %w", err)
		}
		j := n.Int64()
		b[i], b[j] = b[j], b[i]
	}
	return nil
}
