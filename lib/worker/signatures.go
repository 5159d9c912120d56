// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

// PublicKey is one named Ed25519 verification key, e.g. a store's
// trusted-signer entry.
type PublicKey struct {
	Name string
	Key  ed25519.PublicKey
}

// ParsePublicKey parses "name:base64key", the format store signing
// keys are conventionally distributed in.
func ParsePublicKey(s string) (PublicKey, error) {
	name, encoded, ok := strings.Cut(s, ":")
	if !ok {
		return PublicKey{}, fmt.Errorf("worker: malformed public key %q: missing ':'", s)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return PublicKey{}, fmt.Errorf("worker: malformed public key %q: %w", s, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("worker: public key %q: want %d bytes, got %d", s, ed25519.PublicKeySize, len(raw))
	}
	return PublicKey{Name: name, Key: ed25519.PublicKey(raw)}, nil
}

// parseSignature splits a ValidPathInfo signature of the form
// "keyname:base64sig" into its key name and raw signature bytes.
func parseSignature(sig string) (name string, raw []byte, err error) {
	name, encoded, ok := strings.Cut(sig, ":")
	if !ok {
		return "", nil, fmt.Errorf("worker: malformed signature %q: missing ':'", sig)
	}
	raw, err = base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("worker: malformed signature %q: %w", sig, err)
	}
	return name, raw, nil
}

// fingerprint is the exact byte sequence a signature is computed
// over: the version field "1", the store path, its NAR hash (as a
// "sha256:"-prefixed base32 digest string, the same text encoding
// store paths themselves use), its NAR size, and its references sorted
// and comma-joined, the fields separated by semicolons. This mirrors
// the reference daemon's signing fingerprint so a client and daemon
// that use the same convention interoperate.
func fingerprint(info ValidPathInfo) []byte {
	var b strings.Builder
	b.WriteByte('1')
	b.WriteByte(';')
	b.WriteString(info.Path.String())
	b.WriteByte(';')
	b.WriteString("sha256:")
	b.WriteString(encodeBase32(info.NARHash))
	b.WriteByte(';')
	fmt.Fprintf(&b, "%d", info.NARSize)
	b.WriteByte(';')
	refs := make([]string, len(info.References))
	for i, ref := range info.References {
		refs[i] = ref.String()
	}
	sort.Strings(refs)
	b.WriteString(strings.Join(refs, ","))
	return []byte(b.String())
}

// VerifySignatures checks info's signatures against trustedKeys,
// returning the subset of key names that produced a valid signature.
// A path with zero valid signatures is not trusted by this alone;
// callers combine this with their own policy (e.g. requiring N of M).
func VerifySignatures(info ValidPathInfo, trustedKeys []PublicKey) []string {
	if len(info.Signatures) == 0 || len(trustedKeys) == 0 {
		return nil
	}

	byName := make(map[string]ed25519.PublicKey, len(trustedKeys))
	for _, k := range trustedKeys {
		byName[k.Name] = k.Key
	}

	msg := fingerprint(info)
	var validNames []string
	for _, sig := range info.Signatures {
		name, raw, err := parseSignature(sig)
		if err != nil {
			continue
		}
		key, ok := byName[name]
		if !ok {
			continue
		}
		if ed25519.Verify(key, msg, raw) {
			validNames = append(validNames, name)
		}
	}
	return validNames
}
