// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/tebowy/nix/lib/wire"
)

func TestFramedSinkEmitsTrailingZeroFrame(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)

	sink := NewFramedSink(w)
	if _, err := sink.Write([]byte("chunk one")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw := buf.Bytes()
	// first frame: u64 length (9) then the raw "chunk one" payload,
	// unpadded (framed-sink chunks are not wire byte-strings).
	length := readLEUint64(raw[0:8])
	if length != 9 {
		t.Fatalf("first frame length = %d, want 9", length)
	}
	if string(raw[8:17]) != "chunk one" {
		t.Fatalf("payload = %q, want %q", raw[8:17], "chunk one")
	}
	terminator := readLEUint64(raw[17:25])
	if terminator != 0 {
		t.Errorf("terminator = %d, want 0", terminator)
	}
	if len(raw) != 25 {
		t.Errorf("total length = %d, want 25 (no padding on framed-sink chunks)", len(raw))
	}
}

func readLEUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func TestFramedSinkCloseIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewFramedSink(wire.NewWriter(&buf))
	if err := sink.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	lenBefore := buf.Len()
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if buf.Len() != lenBefore {
		t.Errorf("second Close wrote more bytes: before=%d after=%d", lenBefore, buf.Len())
	}
}

func TestRunFramedProducerThenDemux(t *testing.T) {
	var upstream bytes.Buffer // what the "server" would receive
	w := wire.NewWriter(&upstream)

	// stderr frames the "server" would send back, read from a
	// separate buffer that RunFramed's demultiplexer consumes.
	var stderrStream bytes.Buffer
	sw := wire.NewWriter(&stderrStream)
	sw.WriteTag(uint64(StderrStartActivity))
	sw.WriteUint64(1)
	sw.WriteUint64(uint64(VerbosityInfo))
	sw.WriteUint64(0)
	sw.WriteString("building")
	wire.WriteSequence(sw, []Field{}, writeField)
	sw.WriteUint64(0)
	sw.WriteTag(uint64(StderrLast))
	sw.Flush()

	captured, err := RunFramed(context.Background(), wire.NewReader(&stderrStream), w, 35, nil, func(sink *FramedSink) error {
		_, err := sink.Write([]byte("payload bytes"))
		return err
	})
	if err != nil {
		t.Fatalf("RunFramed: %v", err)
	}
	if captured != nil {
		t.Errorf("expected no captured error, got %+v", captured)
	}

	r := wire.NewReader(&upstream)
	n, _ := r.ReadUint64()
	if n != uint64(len("payload bytes")) {
		t.Errorf("chunk length = %d, want %d", n, len("payload bytes"))
	}
}

func TestRunFramedProducerFailurePropagates(t *testing.T) {
	var upstream bytes.Buffer
	w := wire.NewWriter(&upstream)

	var stderrStream bytes.Buffer
	sw := wire.NewWriter(&stderrStream)
	sw.WriteTag(uint64(StderrLast))
	sw.Flush()

	wantErr := errors.New("producer exploded")
	_, err := RunFramed(context.Background(), wire.NewReader(&stderrStream), w, 35, nil, func(sink *FramedSink) error {
		return wantErr
	})
	if err == nil {
		t.Fatal("expected an error from RunFramed")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindIO {
		t.Errorf("expected KindIO, got kind=%v ok=%v (%v)", kind, ok, err)
	}
}
