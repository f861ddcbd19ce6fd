// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package common

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxKeyLength is the maximum allowed length for object keys
	MaxKeyLength = 1024
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidateKey validates an object key for safety issues.
// Returns error if the key:
// - Is empty
// - Contains path traversal sequences (..)
// - Is an absolute path
// - Contains null bytes or control characters
// - Exceeds maximum length
// - Is not valid UTF-8
func ValidateKey(key string) error {
	if key == "" {
		return &ValidationError{Field: "key", Message: "key cannot be empty"}
	}

	if len(key) > MaxKeyLength {
		return &ValidationError{
			Field:   "key",
			Message: fmt.Sprintf("key length exceeds maximum of %d bytes", MaxKeyLength),
		}
	}

	if strings.HasPrefix(key, "/") {
		return &ValidationError{Field: "key", Message: "key cannot be an absolute path"}
	}

	// Windows-style absolute paths (C:\, D:\, etc.)
	if len(key) >= 2 && key[1] == ':' {
		return &ValidationError{Field: "key", Message: "key cannot be an absolute path"}
	}

	for i := 0; i < len(key); i++ {
		switch c := key[i]; {
		case c == '\x00':
			return &ValidationError{Field: "key", Message: "key cannot contain null bytes"}
		case c == '\n' || c == '\r' || c == '\t':
			return &ValidationError{
				Field:   "key",
				Message: fmt.Sprintf("key contains invalid character sequence: %q", string(c)),
			}
		case c == '\\':
			return &ValidationError{
				Field:   "key",
				Message: `key contains invalid character sequence: "\"`,
			}
		}
	}

	// Path traversal in any segment
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return &ValidationError{
				Field:   "key",
				Message: "key cannot contain path traversal sequences (..)",
			}
		}
	}

	if !utf8.ValidString(key) {
		return &ValidationError{Field: "key", Message: "key must be valid UTF-8"}
	}

	return nil
}
