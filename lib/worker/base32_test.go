// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import "testing"

func TestEncodeBase32SingleByte(t *testing.T) {
	got := encodeBase32([]byte{0xff})
	if want := "7z"; got != want {
		t.Errorf("encodeBase32(0xff) = %q, want %q", got, want)
	}
}

func TestEncodeBase32Sha256Length(t *testing.T) {
	got := encodeBase32(make([]byte, 32))
	if len(got) != 52 {
		t.Errorf("encodeBase32 of a 32-byte hash has length %d, want 52", len(got))
	}
}

func TestEncodeBase32UsesOnlyItsAlphabet(t *testing.T) {
	allowed := make(map[byte]bool, len(base32Chars))
	for i := 0; i < len(base32Chars); i++ {
		allowed[base32Chars[i]] = true
	}

	input := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	got := encodeBase32(input)
	if len(got) == 0 {
		t.Fatal("encodeBase32 returned empty string for non-empty input")
	}
	for i := 0; i < len(got); i++ {
		if !allowed[got[i]] {
			t.Errorf("encodeBase32 output contains byte %q outside base32Chars", got[i])
		}
	}
}

func TestEncodeBase32Empty(t *testing.T) {
	if got := encodeBase32(nil); got != "" {
		t.Errorf("encodeBase32(nil) = %q, want empty string", got)
	}
}
