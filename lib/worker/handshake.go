// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"log/slog"

	"github.com/tebowy/nix/lib/wire"
)

// HandshakeResult is everything the handshake (spec.md §4.2) yields
// beyond the negotiated minor itself.
type HandshakeResult struct {
	NegotiatedMinor uint8
	DaemonVersion   string // set only if negotiated minor >= 33
	RemoteTrustsUs  TrustState
}

// Handshake performs the client side of the version-negotiation
// handshake and the SetOptions call that must immediately follow it,
// per spec.md §4.2 steps 1-7. On success the connection is left
// positioned to accept the first real operation.
func Handshake(ctx context.Context, r *wire.Reader, w *wire.Writer, logger *slog.Logger, settings Settings) (HandshakeResult, error) {
	if err := w.WriteUint64(WorkerMagic1); err != nil {
		return HandshakeResult{}, Wrap(KindIO, err, "writing magic 1")
	}
	if err := w.Flush(); err != nil {
		return HandshakeResult{}, Wrap(KindIO, err, "flushing magic 1")
	}

	magic2, err := r.ReadUint64()
	if err != nil {
		return HandshakeResult{}, Wrap(KindIO, err, "reading magic 2")
	}
	if magic2 != WorkerMagic2 {
		return HandshakeResult{}, NewError(KindProtocolError, "protocol mismatch: expected magic %#x, got %#x", WorkerMagic2, magic2)
	}

	daemonPacked, err := r.ReadUint64()
	if err != nil {
		return HandshakeResult{}, Wrap(KindIO, err, "reading daemon protocol version")
	}
	daemonMajor, daemonMinor := UnpackVersion(daemonPacked)
	if daemonMajor != ProtocolMajor {
		return HandshakeResult{}, NewError(KindUnsupported, "daemon major version %d unsupported, client speaks %d", daemonMajor, ProtocolMajor)
	}
	if daemonMinor < MinSupportedMinor {
		return HandshakeResult{}, NewError(KindUnsupported, "daemon too old: minor %d below minimum %d", daemonMinor, MinSupportedMinor)
	}

	if err := w.WriteUint64(PackVersion(ProtocolMajor, ClientMinor)); err != nil {
		return HandshakeResult{}, Wrap(KindIO, err, "writing client protocol version")
	}

	negotiatedMinor := daemonMinor
	if negotiatedMinor > ClientMinor {
		negotiatedMinor = ClientMinor
	}

	// obsolete fields, spec.md §4.2 step 4 / §9: literal zeros, kept
	// for wire compatibility with daemons that still read them.
	if err := w.WriteUint64(obsoleteCPUAffinity); err != nil {
		return HandshakeResult{}, Wrap(KindIO, err, "writing obsolete cpu-affinity field")
	}
	if err := w.WriteBool(obsoleteReserveSpace); err != nil {
		return HandshakeResult{}, Wrap(KindIO, err, "writing obsolete reserve-space field")
	}
	if err := w.Flush(); err != nil {
		return HandshakeResult{}, Wrap(KindIO, err, "flushing client handshake reply")
	}

	result := HandshakeResult{NegotiatedMinor: negotiatedMinor}

	if negotiatedMinor >= 33 {
		version, err := r.ReadString()
		if err != nil {
			return HandshakeResult{}, Wrap(KindIO, err, "reading daemon version string")
		}
		result.DaemonVersion = version
	}

	if negotiatedMinor >= 35 {
		trustTag, err := r.ReadTag()
		if err != nil {
			return HandshakeResult{}, Wrap(KindIO, err, "reading remote-trusts-us flag")
		}
		result.RemoteTrustsUs = TrustState(trustTag)
	}

	if _, err := ProcessStderr(ctx, r, w, negotiatedMinor, logger, FrameIO{}); err != nil {
		return HandshakeResult{}, err
	}

	if err := WriteSetOptions(w, negotiatedMinor, settings); err != nil {
		return HandshakeResult{}, err
	}
	if err := w.Flush(); err != nil {
		return HandshakeResult{}, Wrap(KindIO, err, "flushing SetOptions")
	}
	if captured, err := ProcessStderr(ctx, r, w, negotiatedMinor, logger, FrameIO{}); err != nil {
		return HandshakeResult{}, err
	} else if captured != nil {
		return HandshakeResult{}, RemoteErrorFrom(negotiatedMinor, *captured)
	}

	return result, nil
}

// obsolete SetOptions fields, preserved literally per spec.md §9: the
// old "use build hook" flag, the old verbose-build log level (sent as 0), the
// old log-type enum, and the print-build-trace flag. None are read by
// any daemon this client targets, but SetOptions' argument order is
// fixed, so all four stay exactly where the original argument list
// put them.
const (
	obsoleteUseBuildHook    = true
	obsoleteVerboseBuildLvl uint64 = 0
	obsoleteLogType         uint64 = 0
	obsoletePrintBuildTrace        = false
)

// WriteSetOptions writes the SetOptions opcode and its arguments in
// the order the reference daemon expects: the individually-named
// tunables first, the obsolete fields interleaved where the original
// argument list placed them, then the free-form overrides map. minor
// is accepted for symmetry with the rest of the codec layer, though
// SetOptions' shape has not changed across supported minors.
func WriteSetOptions(w *wire.Writer, minor uint8, s Settings) error {
	if err := w.WriteUint64(uint64(OpSetOptions)); err != nil {
		return err
	}
	if err := w.WriteBool(s.KeepFailed); err != nil {
		return err
	}
	if err := w.WriteBool(s.KeepGoing); err != nil {
		return err
	}
	if err := w.WriteBool(s.TryFallback); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(s.Verbosity)); err != nil {
		return err
	}
	if err := w.WriteUint64(s.MaxBuildJobs); err != nil {
		return err
	}
	if err := w.WriteUint64(s.MaxSilentTime); err != nil {
		return err
	}
	if err := w.WriteBool(obsoleteUseBuildHook); err != nil {
		return err
	}
	if err := w.WriteUint64(obsoleteVerboseBuildLvl); err != nil {
		return err
	}
	if err := w.WriteUint64(obsoleteLogType); err != nil {
		return err
	}
	if err := w.WriteBool(obsoletePrintBuildTrace); err != nil {
		return err
	}
	if err := w.WriteUint64(s.BuildCores); err != nil {
		return err
	}
	if err := w.WriteBool(s.UseSubstitutes); err != nil {
		return err
	}

	entries := make([]wire.MapEntry[string, string], len(s.Overrides))
	for i, o := range s.Overrides {
		entries[i] = wire.MapEntry[string, string]{Key: o.Key, Value: o.Value}
	}
	return wire.WriteMap(w, entries,
		func(w *wire.Writer, k string) error { return w.WriteString(k) },
		func(w *wire.Writer, v string) error { return w.WriteString(v) },
	)
}
