// Package semver parses versioned service references and checks peer
// versions against SemVer ranges.
package semver

import (
	"fmt"
	"regexp"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:parser"

// ServiceRef holds the parsed components of a service reference string.
type ServiceRef struct {
	// Tag is the wire tag of the service (e.g., "wallet")
	Tag string
	// Range is the version range if specified (e.g., "^1.2.0", "2", ""); empty means any version
	Range string
	// Raw input string
	Raw string
}

var (
	tagRegex          = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseServiceRef parses a service reference string.
//
// Supported formats:
//   - wallet            (any version)
//   - wallet@2          (major only)
//   - wallet@2.1.0      (exact version)
//   - wallet@^2.1.0     (caret range)
//   - wallet@~2.1.0     (tilde range)
//   - wallet@>=2.0.0    (comparison range)
func ParseServiceRef(input string) (*ServiceRef, error) {
	raw := strings.TrimSpace(input)

	tag := raw
	rangeStr := ""
	if atIndex := strings.Index(raw, "@"); atIndex != -1 {
		tag = raw[:atIndex]
		rangeStr = strings.TrimSpace(raw[atIndex+1:])
		if rangeStr == "" {
			return nil, fmt.Errorf("%s - empty version range: %s", logPrefix, raw)
		}
	}

	if !ValidateTag(tag) {
		return nil, fmt.Errorf("%s - invalid service tag: %q", logPrefix, raw)
	}
	if rangeStr != "" {
		if err := ValidateRange(rangeStr); err != nil {
			return nil, err
		}
	}

	return &ServiceRef{Tag: tag, Range: rangeStr, Raw: raw}, nil
}

// String rebuilds the reference in tag[@range] form.
func (r *ServiceRef) String() string {
	if r.Range == "" {
		return r.Tag
	}
	return r.Tag + "@" + r.Range
}

// ValidateTag validates a service tag (letters, digits, dots, hyphens, underscores).
func ValidateTag(tag string) bool {
	return tagRegex.MatchString(tag)
}

// ValidateRange checks that rangeStr is a major-only, exact or SemVer range.
func ValidateRange(rangeStr string) error {
	if IsMajorOnly(rangeStr) || IsExactVersion(rangeStr) {
		return nil
	}
	if _, err := masterminds.NewConstraint(rangeStr); err != nil {
		return fmt.Errorf("%s - invalid version range %q: %w", logPrefix, rangeStr, err)
	}
	return nil
}

// ValidateVersion checks that version is a SemVer version.
func ValidateVersion(version string) error {
	if _, err := masterminds.NewVersion(version); err != nil {
		return fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}
	return nil
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}
