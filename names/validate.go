package names

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MinNameLength is the shortest acceptable global name.
	MinNameLength = 3
	// MaxNameLength is the longest acceptable global name.
	MaxNameLength = 63
)

// ErrInvalidName is wrapped by all name syntax errors.
var ErrInvalidName = errors.New("invalid name")

// Normalize canonicalizes a global name: surrounding whitespace and an
// optional ".suffix" are stripped and the rest is lowercased. The
// result either satisfies the name syntax rules or is a well-formed
// crypto-name; anything else is rejected. Normalize is idempotent over
// every name it accepts.
func Normalize(name string) (string, error) {
	base := strings.ToLower(strings.TrimSpace(name))
	base, _, _ = strings.Cut(base, ".")

	if IsCryptoName(base) {
		return base, nil
	}
	if err := checkSyntax(base); err != nil {
		return "", err
	}
	return base, nil
}

// Validate reports whether name is acceptable, either as a global name
// or as a crypto-name. The crypto-name shape is checked first: the two
// forms are only distinguished by character class and length.
func Validate(name string) bool {
	_, err := Normalize(name)
	return err == nil
}

// checkSyntax enforces the global-name rules on an already lowercased
// name: 3-63 characters, leading letter, letters/digits/underscore,
// and no leading, trailing or doubled underscores.
func checkSyntax(name string) error {
	if len(name) < MinNameLength {
		return fmt.Errorf("%w: %q is shorter than %d characters", ErrInvalidName, name, MinNameLength)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	if !isLetter(name[0]) {
		return fmt.Errorf("%w: %q must start with a letter", ErrInvalidName, name)
	}
	if name[len(name)-1] == '_' {
		return fmt.Errorf("%w: %q ends with an underscore", ErrInvalidName, name)
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		if !isLetter(c) && !isDigit(c) && c != '_' {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, c)
		}
		if c == '_' && name[i-1] == '_' {
			return fmt.Errorf("%w: %q contains consecutive underscores", ErrInvalidName, name)
		}
	}
	return nil
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
