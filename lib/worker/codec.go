// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"
	"time"

	"github.com/tebowy/nix/lib/wire"
)

// This file encodes and decodes the message-grammar types in types.go
// on top of package wire's primitives. Every function here is a thin,
// direct translation of one field list from spec.md §3/§4.3; version
// gating (which fields exist at which minor) is applied by the caller
// selecting which function to call, not inside these functions, so
// each function has exactly one wire shape.

func ReadStorePath(r *wire.Reader) (StorePath, error) {
	s, err := r.ReadString()
	if err != nil {
		return StorePath{}, err
	}
	return NewStorePath(s), nil
}

func WriteStorePath(w *wire.Writer, p StorePath) error {
	return w.WriteString(p.String())
}

func ReadStorePathSet(r *wire.Reader) ([]StorePath, error) {
	return wire.ReadSequence(r, ReadStorePath)
}

func WriteStorePathSet(w *wire.Writer, paths []StorePath) error {
	return wire.WriteSequence(w, paths, WriteStorePath)
}

func readCAAlgorithm(r *wire.Reader) (CAAlgorithm, error) {
	v, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	switch CAAlgorithm(v) {
	case CAAlgorithmSHA256, CAAlgorithmBLAKE3, CAAlgorithmBLAKE2B:
		return CAAlgorithm(v), nil
	default:
		return 0, &Error{Kind: KindProtocolError, Message: fmt.Sprintf("unknown content-address algorithm %d", v)}
	}
}

func writeCAAlgorithm(w *wire.Writer, a CAAlgorithm) error {
	return w.WriteUint64(uint64(a))
}

// ReadContentAddress decodes the tagged variant Text{sha256} |
// Flat{hash,algo} | Recursive{hash,algo}.
func ReadContentAddress(r *wire.Reader) (ContentAddress, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return ContentAddress{}, err
	}
	method := CAMethod(tag)
	switch method {
	case CAMethodText:
		hash, err := r.ReadBytes()
		if err != nil {
			return ContentAddress{}, err
		}
		return ContentAddress{Method: method, Algorithm: CAAlgorithmSHA256, Hash: hash}, nil
	case CAMethodFlat, CAMethodRecursive:
		algo, err := readCAAlgorithm(r)
		if err != nil {
			return ContentAddress{}, err
		}
		hash, err := r.ReadBytes()
		if err != nil {
			return ContentAddress{}, err
		}
		return ContentAddress{Method: method, Algorithm: algo, Hash: hash}, nil
	default:
		return ContentAddress{}, &Error{Kind: KindProtocolError, Message: fmt.Sprintf("unknown content-address method %d", tag)}
	}
}

// WriteContentAddress encodes ca per its Method.
func WriteContentAddress(w *wire.Writer, ca ContentAddress) error {
	if err := w.WriteTag(uint64(ca.Method)); err != nil {
		return err
	}
	switch ca.Method {
	case CAMethodText:
		return w.WriteBytes(ca.Hash)
	case CAMethodFlat, CAMethodRecursive:
		if err := writeCAAlgorithm(w, ca.Algorithm); err != nil {
			return err
		}
		return w.WriteBytes(ca.Hash)
	default:
		return &Error{Kind: KindProtocolError, Message: fmt.Sprintf("unknown content-address method %d", ca.Method)}
	}
}

// readOptionalContentAddress decodes a ContentAddress that may be
// absent, tagged with a leading bool per the reference daemon's
// optional-field convention (used for ValidPathInfo.CA and
// DerivationOutput.CA).
func readOptionalContentAddress(r *wire.Reader) (*ContentAddress, error) {
	present, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	ca, err := ReadContentAddress(r)
	if err != nil {
		return nil, err
	}
	return &ca, nil
}

func writeOptionalContentAddress(w *wire.Writer, ca *ContentAddress) error {
	if err := w.WriteBool(ca != nil); err != nil {
		return err
	}
	if ca == nil {
		return nil
	}
	return WriteContentAddress(w, *ca)
}

// ReadValidPathInfo decodes a ValidPathInfo response body. The order
// mirrors the ValidPathInfo field list in spec.md §3: path is decoded
// by the caller ahead of this (it is often the request's subject
// rather than part of the reply), so this reads only the fields from
// Deriver onward.
func ReadValidPathInfo(r *wire.Reader, path StorePath) (ValidPathInfo, error) {
	hasDeriver, err := r.ReadBool()
	if err != nil {
		return ValidPathInfo{}, err
	}
	var deriver StorePath
	if hasDeriver {
		deriver, err = ReadStorePath(r)
		if err != nil {
			return ValidPathInfo{}, err
		}
	}

	narHash, err := r.ReadBytes()
	if err != nil {
		return ValidPathInfo{}, err
	}
	references, err := ReadStorePathSet(r)
	if err != nil {
		return ValidPathInfo{}, err
	}
	registeredAt, err := r.ReadUint64()
	if err != nil {
		return ValidPathInfo{}, err
	}
	narSize, err := r.ReadUint64()
	if err != nil {
		return ValidPathInfo{}, err
	}
	ultimate, err := r.ReadBool()
	if err != nil {
		return ValidPathInfo{}, err
	}
	signatures, err := wire.ReadSequence(r, func(r *wire.Reader) (string, error) { return r.ReadString() })
	if err != nil {
		return ValidPathInfo{}, err
	}
	ca, err := readOptionalContentAddress(r)
	if err != nil {
		return ValidPathInfo{}, err
	}

	return ValidPathInfo{
		Path:         path,
		Deriver:      deriver,
		NARHash:      narHash,
		References:   references,
		RegisteredAt: time.Unix(int64(registeredAt), 0).UTC(),
		NARSize:      narSize,
		Ultimate:     ultimate,
		Signatures:   signatures,
		CA:           ca,
	}, nil
}

// WriteValidPathInfo encodes info in the same field order
// ReadValidPathInfo expects, again omitting Path itself.
func WriteValidPathInfo(w *wire.Writer, info ValidPathInfo) error {
	if err := w.WriteBool(!info.Deriver.Empty()); err != nil {
		return err
	}
	if !info.Deriver.Empty() {
		if err := WriteStorePath(w, info.Deriver); err != nil {
			return err
		}
	}
	if err := w.WriteBytes(info.NARHash); err != nil {
		return err
	}
	if err := WriteStorePathSet(w, info.References); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(info.RegisteredAt.Unix())); err != nil {
		return err
	}
	if err := w.WriteUint64(info.NARSize); err != nil {
		return err
	}
	if err := w.WriteBool(info.Ultimate); err != nil {
		return err
	}
	if err := wire.WriteSequence(w, info.Signatures, func(w *wire.Writer, s string) error { return w.WriteString(s) }); err != nil {
		return err
	}
	return writeOptionalContentAddress(w, info.CA)
}

// ReadDrvOutput decodes a DrvOutput as "hash!outputName", the
// conventional printable encoding for a content-addressed derivation
// output identity.
func ReadDrvOutput(r *wire.Reader) (DrvOutput, error) {
	s, err := r.ReadString()
	if err != nil {
		return DrvOutput{}, err
	}
	hashHex, name, ok := cutBang(s)
	if !ok {
		return DrvOutput{}, &Error{Kind: KindProtocolError, Message: fmt.Sprintf("malformed DrvOutput %q", s)}
	}
	return DrvOutput{DrvHash: []byte(hashHex), OutputName: name}, nil
}

func WriteDrvOutput(w *wire.Writer, d DrvOutput) error {
	return w.WriteString(string(d.DrvHash) + "!" + d.OutputName)
}

func cutBang(s string) (before, after string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '!' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// ReadRealisation decodes a Realisation.
func ReadRealisation(r *wire.Reader) (Realisation, error) {
	id, err := ReadDrvOutput(r)
	if err != nil {
		return Realisation{}, err
	}
	outPath, err := ReadStorePath(r)
	if err != nil {
		return Realisation{}, err
	}
	sigs, err := wire.ReadSequence(r, func(r *wire.Reader) (string, error) { return r.ReadString() })
	if err != nil {
		return Realisation{}, err
	}
	deps, err := wire.ReadSequence(r, ReadDrvOutput)
	if err != nil {
		return Realisation{}, err
	}
	return Realisation{ID: id, OutPath: outPath, Signatures: sigs, Dependencies: deps}, nil
}

func WriteRealisation(w *wire.Writer, r Realisation) error {
	if err := WriteDrvOutput(w, r.ID); err != nil {
		return err
	}
	if err := WriteStorePath(w, r.OutPath); err != nil {
		return err
	}
	if err := wire.WriteSequence(w, r.Signatures, func(w *wire.Writer, s string) error { return w.WriteString(s) }); err != nil {
		return err
	}
	return wire.WriteSequence(w, r.Dependencies, WriteDrvOutput)
}

// WriteDerivedPath encodes the recursive Opaque(StorePath) |
// Built{drv,outputs} variant.
func WriteDerivedPath(w *wire.Writer, p DerivedPath) error {
	if err := w.WriteTag(uint64(p.Tag)); err != nil {
		return err
	}
	switch p.Tag {
	case DerivedPathOpaque:
		return WriteStorePath(w, p.Opaque)
	case DerivedPathBuilt:
		if err := WriteDerivedPath(w, *p.Derivation); err != nil {
			return err
		}
		return wire.WriteSequence(w, p.Outputs, func(w *wire.Writer, s string) error { return w.WriteString(s) })
	default:
		return &Error{Kind: KindProtocolError, Message: fmt.Sprintf("unknown DerivedPath tag %d", p.Tag)}
	}
}

// ReadDerivedPath decodes the recursive Opaque(StorePath) |
// Built{drv,outputs} variant.
func ReadDerivedPath(r *wire.Reader) (DerivedPath, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return DerivedPath{}, err
	}
	switch DerivedPathTag(tag) {
	case DerivedPathOpaque:
		p, err := ReadStorePath(r)
		if err != nil {
			return DerivedPath{}, err
		}
		return DerivedPath{Tag: DerivedPathOpaque, Opaque: p}, nil
	case DerivedPathBuilt:
		drv, err := ReadDerivedPath(r)
		if err != nil {
			return DerivedPath{}, err
		}
		outputs, err := wire.ReadSequence(r, func(r *wire.Reader) (string, error) { return r.ReadString() })
		if err != nil {
			return DerivedPath{}, err
		}
		return DerivedPath{Tag: DerivedPathBuilt, Derivation: &drv, Outputs: outputs}, nil
	default:
		return DerivedPath{}, &Error{Kind: KindProtocolError, Message: fmt.Sprintf("unknown DerivedPath tag %d", tag)}
	}
}

func readDerivationOutput(r *wire.Reader) (DerivationOutput, error) {
	hasPath, err := r.ReadBool()
	if err != nil {
		return DerivationOutput{}, err
	}
	var path *StorePath
	if hasPath {
		p, err := ReadStorePath(r)
		if err != nil {
			return DerivationOutput{}, err
		}
		path = &p
	}
	ca, err := readOptionalContentAddress(r)
	if err != nil {
		return DerivationOutput{}, err
	}
	return DerivationOutput{Path: path, CA: ca}, nil
}

func writeDerivationOutput(w *wire.Writer, o DerivationOutput) error {
	if err := w.WriteBool(o.Path != nil); err != nil {
		return err
	}
	if o.Path != nil {
		if err := WriteStorePath(w, *o.Path); err != nil {
			return err
		}
	}
	return writeOptionalContentAddress(w, o.CA)
}

// ReadDerivation decodes a Derivation as spec.md §3 lists its fields.
func ReadDerivation(r *wire.Reader) (Derivation, error) {
	name, err := r.ReadString()
	if err != nil {
		return Derivation{}, err
	}
	outputEntries, err := wire.ReadMap(r,
		func(r *wire.Reader) (string, error) { return r.ReadString() },
		readDerivationOutput,
	)
	if err != nil {
		return Derivation{}, err
	}
	outputs := make(map[string]DerivationOutput, len(outputEntries))
	for _, e := range outputEntries {
		outputs[e.Key] = e.Value
	}
	inputDrvs, err := wire.ReadSequence(r, ReadDerivedPath)
	if err != nil {
		return Derivation{}, err
	}
	inputSrcs, err := ReadStorePathSet(r)
	if err != nil {
		return Derivation{}, err
	}
	platform, err := r.ReadString()
	if err != nil {
		return Derivation{}, err
	}
	builder, err := r.ReadString()
	if err != nil {
		return Derivation{}, err
	}
	args, err := wire.ReadSequence(r, func(r *wire.Reader) (string, error) { return r.ReadString() })
	if err != nil {
		return Derivation{}, err
	}
	envEntries, err := wire.ReadMap(r,
		func(r *wire.Reader) (string, error) { return r.ReadString() },
		func(r *wire.Reader) (string, error) { return r.ReadString() },
	)
	if err != nil {
		return Derivation{}, err
	}
	env := make([]wireMapEntry, len(envEntries))
	for i, e := range envEntries {
		env[i] = wireMapEntry{Key: e.Key, Value: e.Value}
	}

	return Derivation{
		Name:            name,
		Outputs:         outputs,
		InputDerivation: inputDrvs,
		InputSources:    inputSrcs,
		Platform:        platform,
		Builder:         builder,
		Args:            args,
		Env:             env,
	}, nil
}

// WriteDerivation encodes d in the field order ReadDerivation expects.
func WriteDerivation(w *wire.Writer, d Derivation) error {
	if err := w.WriteString(d.Name); err != nil {
		return err
	}
	outputEntries := make([]wire.MapEntry[string, DerivationOutput], 0, len(d.Outputs))
	for name, out := range d.Outputs {
		outputEntries = append(outputEntries, wire.MapEntry[string, DerivationOutput]{Key: name, Value: out})
	}
	if err := wire.WriteMap(w, outputEntries,
		func(w *wire.Writer, s string) error { return w.WriteString(s) },
		writeDerivationOutput,
	); err != nil {
		return err
	}
	if err := wire.WriteSequence(w, d.InputDerivation, WriteDerivedPath); err != nil {
		return err
	}
	if err := WriteStorePathSet(w, d.InputSources); err != nil {
		return err
	}
	if err := w.WriteString(d.Platform); err != nil {
		return err
	}
	if err := w.WriteString(d.Builder); err != nil {
		return err
	}
	if err := wire.WriteSequence(w, d.Args, func(w *wire.Writer, s string) error { return w.WriteString(s) }); err != nil {
		return err
	}
	envEntries := make([]wire.MapEntry[string, string], len(d.Env))
	for i, e := range d.Env {
		envEntries[i] = wire.MapEntry[string, string]{Key: e.Key, Value: e.Value}
	}
	return wire.WriteMap(w, envEntries,
		func(w *wire.Writer, s string) error { return w.WriteString(s) },
		func(w *wire.Writer, s string) error { return w.WriteString(s) },
	)
}

// ReadBuildResult decodes a BuildResult.
func ReadBuildResult(r *wire.Reader) (BuildResult, error) {
	status, err := r.ReadUint64()
	if err != nil {
		return BuildResult{}, err
	}
	errMsg, err := r.ReadString()
	if err != nil {
		return BuildResult{}, err
	}
	start, err := r.ReadUint64()
	if err != nil {
		return BuildResult{}, err
	}
	stop, err := r.ReadUint64()
	if err != nil {
		return BuildResult{}, err
	}
	outputs, err := wire.ReadMap(r,
		func(r *wire.Reader) (string, error) { return r.ReadString() },
		ReadRealisation,
	)
	if err != nil {
		return BuildResult{}, err
	}

	built := make(map[string]Realisation, len(outputs))
	for _, e := range outputs {
		built[e.Key] = e.Value
	}

	return BuildResult{
		Status:       BuildStatus(status),
		ErrorMessage: errMsg,
		StartTime:    time.Unix(int64(start), 0).UTC(),
		StopTime:     time.Unix(int64(stop), 0).UTC(),
		BuiltOutputs: built,
	}, nil
}

func WriteBuildResult(w *wire.Writer, br BuildResult) error {
	if err := w.WriteUint64(uint64(br.Status)); err != nil {
		return err
	}
	if err := w.WriteString(br.ErrorMessage); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(br.StartTime.Unix())); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(br.StopTime.Unix())); err != nil {
		return err
	}
	entries := make([]wire.MapEntry[string, Realisation], 0, len(br.BuiltOutputs))
	for name, r := range br.BuiltOutputs {
		entries = append(entries, wire.MapEntry[string, Realisation]{Key: name, Value: r})
	}
	return wire.WriteMap(w, entries,
		func(w *wire.Writer, s string) error { return w.WriteString(s) },
		WriteRealisation,
	)
}
