// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import "testing"

func TestPackUnpackVersion(t *testing.T) {
	cases := []struct {
		major, minor uint8
	}{
		{1, 0}, {1, 21}, {1, 38}, {2, 255},
	}
	for _, c := range cases {
		packed := PackVersion(c.major, c.minor)
		gotMajor, gotMinor := UnpackVersion(packed)
		if gotMajor != c.major || gotMinor != c.minor {
			t.Errorf("PackVersion(%d,%d) -> %d -> (%d,%d), want (%d,%d)",
				c.major, c.minor, packed, gotMajor, gotMinor, c.major, c.minor)
		}
	}
}

func TestFormatVersion(t *testing.T) {
	got := FormatVersion(PackVersion(1, 35))
	if got != "1.35" {
		t.Errorf("FormatVersion = %q, want %q", got, "1.35")
	}
}
