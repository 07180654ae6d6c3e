// Package validation provides centralized input validation for runboard.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xtxerr/runboard/internal/errors"
)

// =============================================================================
// Run Name Validation
// =============================================================================

// NameRules defines the validation rules for run names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// DefaultNameRules returns the default rules for run names.
func DefaultNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required: %w",
			rules.MinLength, errors.ErrInvalidName)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed: %w",
			rules.MaxLength, errors.ErrInvalidName)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..': %w", errors.ErrInvalidName)
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.': %w", errors.ErrInvalidName)
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("control character at position %d: %w", i, errors.ErrInvalidName)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("path separator at position %d: %w", i, errors.ErrInvalidName)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character %q at position %d: %w", r, i, errors.ErrInvalidName)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateRunName validates a run name with default rules.
func ValidateRunName(name string) error {
	return ValidateName(name, DefaultNameRules())
}

// =============================================================================
// Run Directory Validation
// =============================================================================

// ValidateRunDir validates a run directory path. The directory does not have
// to exist yet; a producer may create it after the run is registered.
func ValidateRunDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("run directory cannot be empty: %w", errors.ErrInvalidPath)
	}
	for i, r := range dir {
		if r < 32 || r == 127 {
			return fmt.Errorf("control character at position %d: %w", i, errors.ErrInvalidPath)
		}
	}
	return nil
}

// =============================================================================
// Tag Validation
// =============================================================================

// ValidateTag validates a series tag. Tags are producer-chosen and may use
// slashes for grouping (e.g., "train/loss"), so only control characters and
// emptiness are rejected.
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("tag cannot be empty: %w", errors.ErrInvalidName)
	}
	for i, r := range tag {
		if r < 32 || r == 127 {
			return fmt.Errorf("control character at position %d: %w", i, errors.ErrInvalidName)
		}
	}
	return nil
}
