// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// maxByteStringLength bounds a single byte-string read. The protocol
// itself has no inherent limit, but a length field wider than this
// almost certainly means the stream has desynchronized — reading it
// literally would try to allocate gigabytes and stall on a malicious
// or corrupted peer instead of failing fast with a [ProtocolError].
const maxByteStringLength = 1 << 32

// Reader reads worker-protocol primitives from an underlying byte
// stream. It buffers internally, so callers should not wrap the
// underlying io.Reader in their own *bufio.Reader.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader that reads primitives from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 32*1024)}
}

// Writer writes worker-protocol primitives to an underlying byte
// stream, buffering until Flush is called. Every request/response
// cycle in the message grammar ends with an explicit Flush — the
// codec never flushes implicitly, so a batch of writes (opcode,
// arguments) reaches the wire as one or few syscalls.
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a Writer that writes primitives to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 32*1024)}
}

// Flush writes any buffered data to the underlying stream.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return &Error{Op: "flush", Err: err}
	}
	return nil
}

// Error wraps a low-level codec failure with the operation that
// triggered it. Unwrap returns the underlying I/O or protocol error so
// callers can classify it with errors.Is/errors.As.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("wire: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ProtocolError reports that the byte stream violated the codec's
// framing rules: a length prefix too large to be plausible, or padding
// bytes that were not all zero. The codec always returns it as the Err
// of a [wire.Error]. Truncated input is not a ProtocolError: it
// surfaces as io.EOF or io.ErrUnexpectedEOF inside a [wire.Error].
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "wire: protocol error: " + e.Reason }

// --- u64 ---

// ReadUint64 reads an 8-byte little-endian unsigned integer.
func (r *Reader) ReadUint64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, &Error{Op: "read u64", Err: err}
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteUint64 writes v as an 8-byte little-endian unsigned integer.
func (w *Writer) WriteUint64(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if _, err := w.w.Write(buf[:]); err != nil {
		return &Error{Op: "write u64", Err: err}
	}
	return nil
}

// --- bool ---

// ReadBool reads a u64 and interprets it as a boolean: 0 is false, any
// other value is true (the reference daemon only ever sends 0 or 1,
// but the wire format does not forbid other nonzero values).
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint64()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// WriteBool writes b as a u64: 0 for false, 1 for true.
func (w *Writer) WriteBool(b bool) error {
	if b {
		return w.WriteUint64(1)
	}
	return w.WriteUint64(0)
}

// --- byte-string ---

// padLength returns the number of zero padding bytes following an
// n-byte payload so the total occupies a multiple of 8 bytes.
func padLength(n uint64) uint64 {
	return (8 - n%8) % 8
}

// byteStringChunkLimit bounds how much of a byte-string's declared
// length is allocated up front. Like [ReadSequence]'s preallocLimit,
// this keeps a hostile or corrupted length prefix from forcing a
// multi-gigabyte allocation before a single payload byte has actually
// arrived; longer payloads grow the buffer chunk by chunk as bytes are
// confirmed present on the wire.
const byteStringChunkLimit = 1 << 16

// ReadBytes reads a length-prefixed, 8-byte-aligned byte string: a u64
// length n, n payload bytes, then (8 - n mod 8) mod 8 zero padding
// bytes. Returns a [ProtocolError] if n exceeds [maxByteStringLength]
// or if any padding byte is nonzero — the reference daemon never emits
// nonzero padding, so a nonzero byte means desynchronization.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	if n > maxByteStringLength {
		return nil, &Error{Op: "read byte-string", Err: &ProtocolError{
			Reason: fmt.Sprintf("length %d exceeds maximum %d", n, maxByteStringLength),
		}}
	}

	payload := make([]byte, 0, min(n, byteStringChunkLimit))
	for remaining := n; remaining > 0; {
		chunk := remaining
		if chunk > byteStringChunkLimit {
			chunk = byteStringChunkLimit
		}
		start := len(payload)
		payload = append(payload, make([]byte, chunk)...)
		if _, err := io.ReadFull(r.r, payload[start:]); err != nil {
			return nil, &Error{Op: "read byte-string payload", Err: err}
		}
		remaining -= chunk
	}

	pad := padLength(n)
	if pad > 0 {
		var padBuf [8]byte
		if _, err := io.ReadFull(r.r, padBuf[:pad]); err != nil {
			return nil, &Error{Op: "read byte-string padding", Err: err}
		}
		for _, b := range padBuf[:pad] {
			if b != 0 {
				return nil, &Error{Op: "read byte-string padding", Err: &ProtocolError{
					Reason: "nonzero padding byte",
				}}
			}
		}
	}

	return payload, nil
}

// ReadString is ReadBytes with the result converted to a string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteBytes writes b as a length-prefixed, 8-byte-aligned byte
// string.
func (w *Writer) WriteBytes(b []byte) error {
	if err := w.WriteUint64(uint64(len(b))); err != nil {
		return err
	}
	if len(b) > 0 {
		if _, err := w.w.Write(b); err != nil {
			return &Error{Op: "write byte-string payload", Err: err}
		}
	}
	pad := padLength(uint64(len(b)))
	if pad > 0 {
		var padBuf [8]byte
		if _, err := w.w.Write(padBuf[:pad]); err != nil {
			return &Error{Op: "write byte-string padding", Err: err}
		}
	}
	return nil
}

// WriteString is WriteBytes over the string's bytes.
func (w *Writer) WriteString(s string) error {
	return w.WriteBytes([]byte(s))
}

// WriteRaw writes b's bytes directly to the stream with no length
// prefix and no padding. It exists for framing layers above this
// package (framed-sink chunks) that define their own length-prefixed
// block format distinct from the byte-string encoding here.
func (w *Writer) WriteRaw(b []byte) error {
	if _, err := w.w.Write(b); err != nil {
		return &Error{Op: "write raw bytes", Err: err}
	}
	return nil
}

// ReadRaw reads len(buf) bytes directly from the stream with no length
// prefix and no padding, the read-side counterpart to WriteRaw. It
// exists for framing layers above this package that define their own
// length-prefixed block format (framed-sink chunks) distinct from the
// byte-string encoding here.
func (r *Reader) ReadRaw(buf []byte) (int, error) {
	n, err := io.ReadFull(r.r, buf)
	if err != nil {
		return n, &Error{Op: "read raw bytes", Err: err}
	}
	return n, nil
}

// --- sequence<T> ---

// ReadSequence reads a u64 count followed by count elements, each
// decoded by decodeElem. The result slice is pre-allocated to count
// only when count is small enough to be a plausible allocation; larger
// counts grow the slice incrementally so a corrupted or hostile length
// prefix cannot force a multi-gigabyte allocation up front.
func ReadSequence[T any](r *Reader, decodeElem func(*Reader) (T, error)) ([]T, error) {
	count, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}

	const preallocLimit = 1 << 16
	capacity := count
	if capacity > preallocLimit {
		capacity = preallocLimit
	}
	result := make([]T, 0, capacity)

	for i := uint64(0); i < count; i++ {
		elem, err := decodeElem(r)
		if err != nil {
			return nil, fmt.Errorf("sequence element %d: %w", i, err)
		}
		result = append(result, elem)
	}
	return result, nil
}

// WriteSequence writes len(items) followed by each item, encoded by
// encodeElem, in slice order.
func WriteSequence[T any](w *Writer, items []T, encodeElem func(*Writer, T) error) error {
	if err := w.WriteUint64(uint64(len(items))); err != nil {
		return err
	}
	for i, item := range items {
		if err := encodeElem(w, item); err != nil {
			return fmt.Errorf("sequence element %d: %w", i, err)
		}
	}
	return nil
}

// --- map<K,V> ---

// MapEntry is one key/value pair of a wire-encoded map.
type MapEntry[K, V any] struct {
	Key   K
	Value V
}

// ReadMap reads a sequence of (K,V) pairs into a slice of entries,
// preserving wire order. Callers that need a Go map build one from the
// result; keeping this layer order-preserving lets callers that care
// about wire ordering (lexicographic, where the spec calls for it)
// validate or re-sort explicitly instead of losing the information to
// Go's randomized map iteration.
func ReadMap[K, V any](r *Reader, decodeKey func(*Reader) (K, error), decodeValue func(*Reader) (V, error)) ([]MapEntry[K, V], error) {
	return ReadSequence(r, func(r *Reader) (MapEntry[K, V], error) {
		key, err := decodeKey(r)
		if err != nil {
			return MapEntry[K, V]{}, fmt.Errorf("map key: %w", err)
		}
		value, err := decodeValue(r)
		if err != nil {
			return MapEntry[K, V]{}, fmt.Errorf("map value: %w", err)
		}
		return MapEntry[K, V]{Key: key, Value: value}, nil
	})
}

// WriteMap writes entries as a sequence of (K,V) pairs in slice order.
// Callers that must produce the canonical lexicographic ordering the
// spec mentions for reader-sensitive maps are responsible for sorting
// entries before calling WriteMap.
func WriteMap[K, V any](w *Writer, entries []MapEntry[K, V], encodeKey func(*Writer, K) error, encodeValue func(*Writer, V) error) error {
	return WriteSequence(w, entries, func(w *Writer, e MapEntry[K, V]) error {
		if err := encodeKey(w, e.Key); err != nil {
			return fmt.Errorf("map key: %w", err)
		}
		if err := encodeValue(w, e.Value); err != nil {
			return fmt.Errorf("map value: %w", err)
		}
		return nil
	})
}

// --- tagged variant ---

// ReadTag reads the u64 discriminator of a tagged variant. The caller
// dispatches on the returned value to decode the variant-specific
// payload.
func (r *Reader) ReadTag() (uint64, error) {
	return r.ReadUint64()
}

// WriteTag writes a tagged variant's u64 discriminator. The caller
// writes the variant-specific payload immediately afterward.
func (w *Writer) WriteTag(tag uint64) error {
	return w.WriteUint64(tag)
}
