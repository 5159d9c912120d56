// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tebowy/nix/lib/wire"
)

// FramedSink streams a bulk payload to the server as length-prefixed
// chunks terminated by a zero-length frame (spec.md §4.5), while a
// concurrent goroutine drains the stderr demultiplexer on the same
// connection so the server can interleave logs and activities during
// the upload. It implements io.Writer so a caller can pass it
// anywhere a writer is expected (e.g. io.Copy from a NAR source).
//
// This is the one place this client runs two goroutines cooperating
// over a single connection: only the FramedSink goroutine (the
// caller's own goroutine, via Write/Close) writes, and only the
// stderr goroutine reads, so ordering on the socket is preserved
// without additional locking on the stream itself.
type FramedSink struct {
	w      *wire.Writer
	closed bool

	firstErr firstError
}

// firstError is a lock-protected slot holding the first error of the
// producer side: a failed Write, a failed Close, or the produce
// callback's error. Write checks it and refuses further frames once it
// is set. The stderr-demultiplexer goroutine neither records into it
// nor reads it; it runs until Last or its own error.
type firstError struct {
	mu  sync.Mutex
	err error
}

func (f *firstError) set(err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

func (f *firstError) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// NewFramedSink wraps w as a FramedSink. The caller must have already
// written the operation's opcode and fixed arguments; NewFramedSink
// only governs the streamed payload that follows.
func NewFramedSink(w *wire.Writer) *FramedSink {
	return &FramedSink{w: w}
}

// Write emits p as one length-prefixed frame. It never emits a
// zero-length frame itself — that is reserved for Close, since a
// zero-length frame is the wire's terminator, not ordinary content.
func (s *FramedSink) Write(p []byte) (int, error) {
	if s.firstErr.get() != nil {
		return 0, s.firstErr.get()
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.w.WriteUint64(uint64(len(p))); err != nil {
		s.firstErr.set(err)
		return 0, err
	}
	if err := s.w.WriteRaw(p); err != nil {
		s.firstErr.set(err)
		return 0, err
	}
	return len(p), nil
}

// Close flushes the terminating zero-length frame. Per spec.md §8
// property 8, this frame is emitted even when the producer already
// failed, so the consumer's demultiplexer can still observe a
// well-formed Last from the server rather than hanging on a
// half-written frame stream.
func (s *FramedSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.w.WriteUint64(0); err != nil {
		s.firstErr.set(err)
		return err
	}
	if err := s.w.Flush(); err != nil {
		s.firstErr.set(err)
		return err
	}
	return nil
}

// RunFramed drives one FramedSink session end to end: it spawns the
// stderr-demultiplexer goroutine, calls produce with the FramedSink
// so the caller can stream its payload, closes the sink (emitting the
// terminating frame) regardless of produce's outcome, and joins the
// demultiplexer goroutine. If the producer side failed, that error is
// returned (as KindIO) even when the demultiplexer also failed;
// otherwise the demultiplexer's error or captured Error frame is.
func RunFramed(ctx context.Context, r *wire.Reader, w *wire.Writer, minor uint8, logger *slog.Logger, produce func(*FramedSink) error) (*RemoteErrorInfo, error) {
	sink := NewFramedSink(w)

	var (
		wg        sync.WaitGroup
		captured  *RemoteErrorInfo
		demuxErr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		captured, demuxErr = ProcessStderr(ctx, r, w, minor, logger, FrameIO{})
	}()

	produceErr := produce(sink)
	sink.firstErr.set(produceErr)
	closeErr := sink.Close()
	sink.firstErr.set(closeErr)

	wg.Wait()

	if err := sink.firstErr.get(); err != nil {
		return nil, Wrap(KindIO, err, "framed sink producer failed")
	}
	if demuxErr != nil {
		return nil, demuxErr
	}
	return captured, nil
}
