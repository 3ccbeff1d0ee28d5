// Package uuid provides local identifier generation and validation.
//
// Local ids are UUID v4 strings generated on this device. They are stable
// for the lifetime of an entity and never reassigned, independent of the
// identifier the server eventually hands out.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new local id.
func New() string {
	return uuid.New().String()
}

// IsValid checks if a string is a well-formed local id.
// Enforces strict UUID v4 format with dashes and correct variant bits.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if the string is not a well-formed local id.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid local id: %q", s)
	}
	return nil
}
