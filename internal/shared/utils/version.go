package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a dotted numeric version
type Version []int

// ParseVersion parses a dotted version such as "1.2.10"
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty version")
	}
	parts := strings.Split(s, ".")
	v := make(Version, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version %q: field %q is not a non-negative integer", s, p)
		}
		v[i] = n
	}
	return v, nil
}

// Compare returns -1, 0 or 1. Missing trailing fields count as zero.
func (v Version) Compare(o Version) int {
	n := len(v)
	if len(o) > n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		a, b := field(v, i), field(o, i)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

func field(v Version, i int) int {
	if i < len(v) {
		return v[i]
	}
	return 0
}

// CompareVersions parses and compares two dotted versions
func CompareVersions(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// IsNewer reports whether candidate is strictly newer than current
func IsNewer(candidate, current string) bool {
	c, err := CompareVersions(candidate, current)
	return err == nil && c > 0
}
