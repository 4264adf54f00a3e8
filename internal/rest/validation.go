// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biometrics.
//
// go-biometrics is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jeremyhahn/go-biometrics/pkg/types"
)

const (
	// maxUserIDLength bounds user identifiers taken from URLs.
	maxUserIDLength = 255

	// maxBodyBytes bounds JSON request bodies.
	maxBodyBytes = 64 << 10
)

// userIDPattern matches printable user identifiers without path separators.
var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.@+]+$`)

// ValidateUserID checks a user identifier taken from the request path.
// User IDs become storage key components, so separators are rejected.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user ID cannot be empty", ErrInvalidRequest)
	}
	if len(userID) > maxUserIDLength {
		return fmt.Errorf("%w: user ID too long (max %d characters)", ErrInvalidRequest, maxUserIDLength)
	}
	if userID == "." || userID == ".." || !userIDPattern.MatchString(userID) {
		return fmt.Errorf("%w: user ID contains invalid characters", ErrInvalidRequest)
	}
	return nil
}

// ParseModalityParam parses a modality taken from the request. An unknown
// name is unsupported rather than malformed.
func ParseModalityParam(s string) (types.Modality, error) {
	if s == "" {
		return "", nil
	}
	return types.ParseModality(s)
}

// SanitizeString removes control characters from a string and bounds its
// length. Used for log messages to prevent log injection.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(s) > 1000 {
		s = s[:1000] + "..."
	}
	return s
}
