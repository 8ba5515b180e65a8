package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a dotted-integer application version such as "1.0.1217".
// The zero value means "unknown".
type Version []int

func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(s, "^"), "~"))
	if s == "" {
		return nil, fmt.Errorf("empty version")
	}

	parts := strings.Split(s, ".")
	v := make(Version, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", s, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid version %q: negative component", s)
		}
		v = append(v, n)
	}

	return v, nil
}

// MustVersion is for constants and tests.
func MustVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	if len(v) == 0 {
		return "unknown"
	}

	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

func (v Version) IsZero() bool {
	return len(v) == 0
}

// Compare returns -1, 0 or 1. Missing components compare as zero,
// so 1.2 == 1.2.0.
func (v Version) Compare(other Version) int {
	n := len(v)
	if len(other) > n {
		n = len(other)
	}

	for i := 0; i < n; i++ {
		var a, b int
		if i < len(v) {
			a = v[i]
		}
		if i < len(other) {
			b = other[i]
		}
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}

	return 0
}

func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// Major returns the leading component, 0 for the zero value.
func (v Version) Major() int {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}
