// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package update

import (
	"strconv"
	"strings"
)

type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Greater:
		return "greater"
	default:
		return "equal"
	}
}

// Normalize trims whitespace and drops one leading "v". Suffixes are kept
// for display; Compare ignores them.
func Normalize(version string) string {
	return strings.TrimPrefix(strings.TrimSpace(version), "v")
}

// core cuts pre-release ("-beta") and build ("+45") suffixes.
func core(version string) string {
	v := Normalize(version)
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	return v
}

// IsRelease reports whether version starts with a number once the "v" is
// dropped. Builds stamped "dev" or left empty are not releases.
func IsRelease(version string) bool {
	v := core(version)
	return v != "" && v[0] >= '0' && v[0] <= '9'
}

// Compare orders two versions component by component, ignoring pre-release
// and build suffixes. Each dot-separated
// component counts as the number formed by its leading digits (0 if none);
// the shorter version is padded with zeros, so "1.2" equals "1.2.0".
func Compare(a, b string) Ordering {
	left := components(a)
	right := components(b)
	n := max(len(left), len(right))
	for i := 0; i < n; i++ {
		var l, r int
		if i < len(left) {
			l = left[i]
		}
		if i < len(right) {
			r = right[i]
		}
		switch {
		case l < r:
			return Less
		case l > r:
			return Greater
		}
	}
	return Equal
}

func components(version string) []int {
	v := core(version)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, part := range parts {
		out[i] = leadingNumber(part)
	}
	return out
}

func leadingNumber(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		// overflow; treat as the largest component
		return int(^uint(0) >> 1)
	}
	return n
}
