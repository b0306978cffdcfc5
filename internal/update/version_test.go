// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package update

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"v1.2.3":      "1.2.3",
		"  v1.2.3\n":  "1.2.3",
		"1.2.3-beta":  "1.2.3-beta",
		"v2.0.0-beta": "2.0.0-beta",
		"v1.2.3+45":   "1.2.3+45",
		"vv1.0":       "v1.0",
		"V1.0":        "V1.0",
		"":            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestCore(t *testing.T) {
	cases := map[string]string{
		"1.2.3-beta":  "1.2.3",
		"v1.2.3+45":   "1.2.3",
		"1.0-rc.1+b7": "1.0",
		" v3.1.4 ":    "3.1.4",
		"-nightly":    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, core(in), "core(%q)", in)
	}
}

func TestIsRelease(t *testing.T) {
	assert.True(t, IsRelease("1.2.3"))
	assert.True(t, IsRelease("v0.9.0-beta"))
	assert.False(t, IsRelease("dev"))
	assert.False(t, IsRelease(""))
	assert.False(t, IsRelease("v"))
	assert.False(t, IsRelease("-dirty"))
}

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want Ordering
	}{
		{"1.2.3", "1.2.4", Less},
		{"1.2.4", "1.2.3", Greater},
		{"1.2.0", "1.2", Equal},
		{"1.2", "1.2.0.0", Equal},
		{"1.2.3", "1.2.3+45", Equal},
		{"1.2.3-beta", "1.2.3", Equal},
		{"v1.10.0", "1.9.9", Greater},
		{"1.2rc1", "1.2", Equal},
		{"1.x", "1.0", Equal},
		{"", "0.0.1", Less},
		{"2", "10", Less},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Compare(tc.a, tc.b), "Compare(%q, %q)", tc.a, tc.b)
	}
}

func TestCompareIsAntisymmetric(t *testing.T) {
	versions := []string{"1", "1.0.1", "v2.0", "0.9.9-beta", "1.2.3+45", "10.0"}
	for _, a := range versions {
		for _, b := range versions {
			assert.Equal(t, -Compare(a, b), Compare(b, a), "%q vs %q", a, b)
		}
	}
}
