// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tebowy/nix/lib/wire"
)

// Stderr frame tags, spec.md §6. StderrRead shares StderrWrite's
// numeric value — the reference daemon reuses "data" for both
// directions, distinguished only by which side is speaking.
type StderrTag uint64

const (
	StderrWrite         StderrTag = 0x64617461 // "data"
	StderrRead          StderrTag = 0x64617461 // "data", request direction
	StderrError         StderrTag = 0x63737870 // "csxp"
	StderrNext          StderrTag = 0x6f6c6d67
	StderrStartActivity StderrTag = 0x53545254
	StderrStopActivity  StderrTag = 0x53544f50
	StderrResult        StderrTag = 0x52534c54
	StderrLast          StderrTag = 0x616c7473
)

// FieldKind discriminates a StartActivity/Result field's payload.
type FieldKind uint64

const (
	FieldInt FieldKind = iota
	FieldString
)

// Field is one element of a StartActivity or Result field list.
type Field struct {
	Kind FieldKind
	Int  int64
	Str  string
}

func readField(r *wire.Reader) (Field, error) {
	kind, err := r.ReadUint64()
	if err != nil {
		return Field{}, err
	}
	switch FieldKind(kind) {
	case FieldInt:
		v, err := r.ReadUint64()
		if err != nil {
			return Field{}, err
		}
		return Field{Kind: FieldInt, Int: int64(v)}, nil
	case FieldString:
		s, err := r.ReadString()
		if err != nil {
			return Field{}, err
		}
		return Field{Kind: FieldString, Str: s}, nil
	default:
		return Field{}, &Error{Kind: KindProtocolError, Message: fmt.Sprintf("unknown field kind %d", kind)}
	}
}

func writeField(w *wire.Writer, f Field) error {
	if err := w.WriteUint64(uint64(f.Kind)); err != nil {
		return err
	}
	switch f.Kind {
	case FieldInt:
		return w.WriteUint64(uint64(f.Int))
	case FieldString:
		return w.WriteString(f.Str)
	default:
		return &Error{Kind: KindProtocolError, Message: fmt.Sprintf("unknown field kind %d", f.Kind)}
	}
}

func readFields(r *wire.Reader) ([]Field, error) {
	return wire.ReadSequence(r, readField)
}

// RemoteErrorInfo is the payload of a terminal Error frame, decoded
// uniformly whether the peer used the structured (minor >= 26) or
// legacy (string, status) shape.
type RemoteErrorInfo struct {
	Level   Verbosity
	Message string
	Traces  []string
	Status  uint32 // meaningful only for the pre-26 shape; 0 otherwise
}

func readErrorFrame(r *wire.Reader, minor uint8) (RemoteErrorInfo, error) {
	if minor < 26 {
		msg, err := r.ReadString()
		if err != nil {
			return RemoteErrorInfo{}, err
		}
		status, err := r.ReadUint64()
		if err != nil {
			return RemoteErrorInfo{}, err
		}
		return RemoteErrorInfo{Message: msg, Status: uint32(status)}, nil
	}

	level, err := r.ReadUint64()
	if err != nil {
		return RemoteErrorInfo{}, err
	}
	_, err = r.ReadString() // name, unused: superseded by Message
	if err != nil {
		return RemoteErrorInfo{}, err
	}
	msg, err := r.ReadString()
	if err != nil {
		return RemoteErrorInfo{}, err
	}
	traces, err := wire.ReadSequence(r, func(r *wire.Reader) (string, error) {
		return r.ReadString()
	})
	if err != nil {
		return RemoteErrorInfo{}, err
	}
	return RemoteErrorInfo{Level: Verbosity(level), Message: msg, Traces: traces}, nil
}

// Activity describes a StartActivity frame.
type Activity struct {
	ID     uint64
	Level  Verbosity
	Type   uint64
	Text   string
	Fields []Field
	Parent uint64
}

// FrameIO supplies the collaborators a stderr demultiplexer pass may
// need: Sink receives bytes from Write frames (server-to-client
// streaming, e.g. NarFromPath), Source supplies bytes requested by
// Read frames (client-to-server streaming a caller-provided source
// through the connection). Either may be nil; a nil Sink discards
// Write frames. Read and Write frames share one tag, so a frame with
// that tag is handled as a Read request only when Source is non-nil;
// with a nil Source it is decoded as a Write frame.
type FrameIO struct {
	Sink   io.Writer
	Source io.Reader
}

// ProcessStderr runs the stderr demultiplexer loop (spec.md §4.4)
// until a Last frame terminates it. It never returns a *worker.Error
// of Kind RemoteError for a *decode* failure — only genuine decode
// failures (unknown tag, truncated frame) become KindProtocolError.
// A well-formed Error frame is captured and returned as the first
// result value once Last arrives, exactly mirroring the reference
// daemon's "raise after the loop, not from inside it" policy so Last
// handling and stream draining still run. If reading a frame tag fails
// (for instance because the peer closed the stream before Last), that
// error is returned together with any Error frame already captured.
func ProcessStderr(ctx context.Context, r *wire.Reader, w *wire.Writer, minor uint8, logger *slog.Logger, io_ FrameIO) (*RemoteErrorInfo, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var captured *RemoteErrorInfo

	for {
		tag, err := r.ReadTag()
		if err != nil {
			return captured, Wrap(KindIO, err, "reading stderr frame tag")
		}

		switch StderrTag(tag) {
		case StderrWrite: // shares its numeric value with StderrRead
			// Only one of Sink/Source is active for a given call: a
			// response-streaming operation (NarFromPath) sets Sink and
			// receives {bytes}; a caller streaming a source through
			// Read requests sets Source and receives a requested
			// length n, answering with up to n bytes.
			if io_.Source != nil {
				n, err := r.ReadUint64()
				if err != nil {
					return nil, Wrap(KindProtocolError, err, "decoding Read frame length")
				}
				if err := respondToRead(w, io_.Source, n); err != nil {
					return nil, err
				}
				if err := w.Flush(); err != nil {
					return nil, Wrap(KindIO, err, "flushing Read-frame response")
				}
				break
			}

			b, err := r.ReadBytes()
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding Write frame")
			}
			if io_.Sink != nil {
				if _, err := io_.Sink.Write(b); err != nil {
					return nil, Wrap(KindIO, err, "writing Write-frame bytes to sink")
				}
			}

		case StderrError:
			info, err := readErrorFrame(r, minor)
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding Error frame")
			}
			logger.Log(ctx, slog.LevelError, "remote error", slog.String("message", info.Message))
			captured = &info

		case StderrNext:
			msg, err := r.ReadString()
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding Next frame")
			}
			logger.Log(ctx, slog.LevelError, msg)

		case StderrStartActivity:
			id, err := r.ReadUint64()
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding StartActivity id")
			}
			level, err := r.ReadUint64()
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding StartActivity level")
			}
			actType, err := r.ReadUint64()
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding StartActivity type")
			}
			text, err := r.ReadString()
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding StartActivity text")
			}
			fields, err := readFields(r)
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding StartActivity fields")
			}
			parent, err := r.ReadUint64()
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding StartActivity parent")
			}
			logger.Log(ctx, slog.LevelDebug, "activity start",
				slog.Uint64("activity", id), slog.Uint64("type", actType),
				slog.String("text", text), slog.Uint64("parent", parent),
				slog.Int("level", int(level)), slog.Int("fields", len(fields)))

		case StderrStopActivity:
			id, err := r.ReadUint64()
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding StopActivity id")
			}
			logger.Log(ctx, slog.LevelDebug, "activity stop", slog.Uint64("activity", id))

		case StderrResult:
			id, err := r.ReadUint64()
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding Result id")
			}
			resultType, err := r.ReadUint64()
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding Result type")
			}
			fields, err := readFields(r)
			if err != nil {
				return nil, Wrap(KindProtocolError, err, "decoding Result fields")
			}
			logger.Log(ctx, slog.LevelDebug, "activity result",
				slog.Uint64("activity", id), slog.Uint64("type", resultType),
				slog.Int("fields", len(fields)))

		case StderrLast:
			return captured, nil

		default:
			return nil, &Error{Kind: KindProtocolError, Message: fmt.Sprintf("unknown stderr frame tag %#x", tag)}
		}
	}
}

// readChunkLimit bounds how much of a Read frame's requested length is
// allocated up front. n comes from the peer and is otherwise
// unbounded; growing the buffer chunk by chunk as bytes are actually
// pulled from src keeps a peer that asks for an implausible amount
// from forcing a multi-gigabyte allocation before any data exists.
const readChunkLimit = 1 << 16

// respondToRead answers a server Read request (n bytes wanted from a
// caller-supplied source) with up to n bytes, or an empty byte-string
// if src is nil or exhausted. ProcessStderr calls it for each Read
// frame when its FrameIO has a non-nil Source.
func respondToRead(w *wire.Writer, src io.Reader, n uint64) error {
	if src == nil || n == 0 {
		return w.WriteBytes(nil)
	}

	buf := make([]byte, 0, min(n, readChunkLimit))
	for uint64(len(buf)) < n {
		chunk := n - uint64(len(buf))
		if chunk > readChunkLimit {
			chunk = readChunkLimit
		}
		start := len(buf)
		buf = append(buf, make([]byte, chunk)...)
		read, err := io.ReadFull(src, buf[start:])
		buf = buf[:start+read]
		if err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				break
			}
			return Wrap(KindIO, err, "reading from Read-frame source")
		}
	}
	return w.WriteBytes(buf)
}
