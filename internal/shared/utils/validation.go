package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String length limits
const (
	MaxIDLength          = 128
	MaxNameLength        = 256
	MaxDescriptionLength = 8192
	MaxCategoryLength    = 64
	MaxEntryNameLength   = 128
)

// Regular expressions for validation
var (
	// PackageIDPattern is a reverse-domain identifier with at least two labels
	PackageIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z0-9_][a-zA-Z0-9_-]*)+$`)
	// EntryNamePattern allows dotted qualified names such as com.example.a.MainActivity
	EntryNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._$-]+$`)
	// CategoryPattern allows lowercase words separated by hyphens or underscores
	CategoryPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidatePackageID validates a reverse-domain package identifier
func ValidatePackageID(id string) error {
	if err := ValidateString(id, "id", 3, MaxIDLength, true); err != nil {
		return err
	}
	if !PackageIDPattern.MatchString(id) {
		return fmt.Errorf("id %q is not a reverse-domain identifier", id)
	}
	return nil
}

// ValidateEntryName validates an entry point name
func ValidateEntryName(name string) error {
	if err := ValidateString(name, "entry name", 1, MaxEntryNameLength, true); err != nil {
		return err
	}
	if !EntryNamePattern.MatchString(name) {
		return fmt.Errorf("entry name %q contains invalid characters", name)
	}
	return nil
}

// ValidateName validates a name field
func ValidateName(name, fieldName string) error {
	return ValidateString(name, fieldName, 1, MaxNameLength, true)
}

// ValidateDescription validates a description field
func ValidateDescription(description, fieldName string) error {
	return ValidateString(description, fieldName, 0, MaxDescriptionLength, false)
}

// ValidateCategory validates a category field
func ValidateCategory(category string) error {
	if err := ValidateString(category, "category", 0, MaxCategoryLength, false); err != nil {
		return err
	}
	if category != "" && !CategoryPattern.MatchString(category) {
		return fmt.Errorf("category must contain only lowercase letters, numbers, hyphens and underscores")
	}
	return nil
}

// IsReserved reports whether id falls under one of the reserved prefixes
func IsReserved(id string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}
