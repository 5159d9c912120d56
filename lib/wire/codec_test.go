// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestUint64Roundtrip(t *testing.T) {
	values := []uint64{0, 1, 255, 256, 1 << 32, 1<<64 - 1}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, v := range values {
		if err := w.WriteUint64(v); err != nil {
			t.Fatalf("WriteUint64(%d): %v", v, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	for _, want := range values {
		got, err := r.ReadUint64()
		if err != nil {
			t.Fatalf("ReadUint64: %v", err)
		}
		if got != want {
			t.Errorf("ReadUint64 = %d, want %d", got, want)
		}
	}
}

func TestBoolRoundtrip(t *testing.T) {
	for _, want := range []bool{true, false} {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		if err := w.WriteBool(want); err != nil {
			t.Fatalf("WriteBool: %v", err)
		}
		w.Flush()

		got, err := NewReader(&buf).ReadBool()
		if err != nil {
			t.Fatalf("ReadBool: %v", err)
		}
		if got != want {
			t.Errorf("ReadBool = %v, want %v", got, want)
		}
	}
}

func TestByteStringRoundtripAndPadding(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte(""),
		[]byte("a"),
		[]byte("exactly8"),
		[]byte("nine byte"),
		bytes.Repeat([]byte("x"), 1000),
	}

	for _, want := range cases {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		if err := w.WriteBytes(want); err != nil {
			t.Fatalf("WriteBytes(%q): %v", want, err)
		}
		w.Flush()

		if buf.Len()%8 != 0 {
			t.Errorf("encoded length %d is not a multiple of 8 for input %q", buf.Len(), want)
		}

		got, err := NewReader(&buf).ReadBytes()
		if err != nil {
			t.Fatalf("ReadBytes: %v", err)
		}
		if !bytes.Equal(got, want) && !(len(got) == 0 && len(want) == 0) {
			t.Errorf("ReadBytes = %q, want %q", got, want)
		}
	}
}

func TestStringRoundtrip(t *testing.T) {
	want := "hello, store"
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteString(want)
	w.Flush()

	got, err := NewReader(&buf).ReadString()
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if got != want {
		t.Errorf("ReadString = %q, want %q", got, want)
	}
}

func TestSequenceRoundtrip(t *testing.T) {
	want := []uint64{1, 2, 3, 4, 5}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	err := WriteSequence(w, want, func(w *Writer, v uint64) error {
		return w.WriteUint64(v)
	})
	if err != nil {
		t.Fatalf("WriteSequence: %v", err)
	}
	w.Flush()

	got, err := ReadSequence(NewReader(&buf), func(r *Reader) (uint64, error) {
		return r.ReadUint64()
	})
	if err != nil {
		t.Fatalf("ReadSequence: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ReadSequence length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEmptySequence(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	WriteSequence(w, []uint64{}, func(w *Writer, v uint64) error { return w.WriteUint64(v) })
	w.Flush()

	got, err := ReadSequence(NewReader(&buf), func(r *Reader) (uint64, error) { return r.ReadUint64() })
	if err != nil {
		t.Fatalf("ReadSequence: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty sequence, got %v", got)
	}
}

func TestMapRoundtrip(t *testing.T) {
	want := []MapEntry[string, string]{
		{Key: "keepFailed", Value: "false"},
		{Key: "maxBuildJobs", Value: "4"},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	err := WriteMap(w, want,
		func(w *Writer, k string) error { return w.WriteString(k) },
		func(w *Writer, v string) error { return w.WriteString(v) },
	)
	if err != nil {
		t.Fatalf("WriteMap: %v", err)
	}
	w.Flush()

	got, err := ReadMap(NewReader(&buf),
		func(r *Reader) (string, error) { return r.ReadString() },
		func(r *Reader) (string, error) { return r.ReadString() },
	)
	if err != nil {
		t.Fatalf("ReadMap: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ReadMap length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestTaggedVariantRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteTag(2)
	w.WriteString("payload")
	w.Flush()

	r := NewReader(&buf)
	tag, err := r.ReadTag()
	if err != nil {
		t.Fatalf("ReadTag: %v", err)
	}
	if tag != 2 {
		t.Fatalf("ReadTag = %d, want 2", tag)
	}
	payload, err := r.ReadString()
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if payload != "payload" {
		t.Errorf("payload = %q, want %q", payload, "payload")
	}
}

func TestReadBytesRejectsNonzeroPadding(t *testing.T) {
	var buf bytes.Buffer
	// length=1, payload="a", then 7 padding bytes with one nonzero byte.
	w := NewWriter(&buf)
	w.WriteUint64(1)
	w.Flush()
	buf.WriteByte('a')
	buf.Write([]byte{0, 0, 0, 1, 0, 0, 0})

	_, err := NewReader(&buf).ReadBytes()
	if err == nil {
		t.Fatal("expected error for nonzero padding, got nil")
	}
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("expected *ProtocolError, got %T: %v", err, err)
	}
}

func TestReadBytesRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteUint64(maxByteStringLength + 1)
	w.Flush()

	_, err := NewReader(&buf).ReadBytes()
	if err == nil {
		t.Fatal("expected error for oversized length, got nil")
	}
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("expected *ProtocolError, got %T: %v", err, err)
	}
}

func TestReadBytesSpansMultipleChunks(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, byteStringChunkLimit*2+13)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteBytes(payload); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := NewReader(&buf).ReadBytes()
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadBytes returned %d bytes, want %d matching the original payload", len(got), len(payload))
	}
}

func TestReadUint64TruncatedInput(t *testing.T) {
	buf := bytes.NewReader([]byte{1, 2, 3})
	_, err := NewReader(buf).ReadUint64()
	if err == nil {
		t.Fatal("expected error for truncated input")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}
