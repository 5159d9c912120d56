// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import "time"

// StorePath is the canonical base-name of an entry in the content
// store: a hash component and a human-readable component joined by
// the store's own convention. It carries no filesystem prefix — the
// prefix is a property of the store, not of the path.
type StorePath struct {
	name string
}

// NewStorePath wraps name as a StorePath without validating its
// internal structure; validation is the daemon's job, this client
// only carries the string.
func NewStorePath(name string) StorePath { return StorePath{name: name} }

// String returns the canonical printable form.
func (p StorePath) String() string { return p.name }

// Empty reports whether p is the zero value.
func (p StorePath) Empty() bool { return p.name == "" }

// CAAlgorithm names an allowed content-address hash algorithm. Which
// algorithms are legal depends on the ContentAddress variant: Text
// requires SHA256, Flat and Recursive allow SHA256, BLAKE3, or
// BLAKE2B.
type CAAlgorithm uint8

const (
	CAAlgorithmSHA256 CAAlgorithm = iota
	CAAlgorithmBLAKE3
	CAAlgorithmBLAKE2B
)

func (a CAAlgorithm) String() string {
	switch a {
	case CAAlgorithmSHA256:
		return "sha256"
	case CAAlgorithmBLAKE3:
		return "blake3"
	case CAAlgorithmBLAKE2B:
		return "blake2b"
	default:
		return "unknown"
	}
}

// CAMethod is the tagged-variant discriminator for ContentAddress.
type CAMethod uint8

const (
	CAMethodText CAMethod = iota
	CAMethodFlat
	CAMethodRecursive
)

// ContentAddress is the tagged variant Text{sha256} | Flat{hash,algo}
// | Recursive{hash,algo} from spec.md §3. Method selects which fields
// are meaningful; Text always carries CAAlgorithmSHA256 in Algorithm.
type ContentAddress struct {
	Method    CAMethod
	Algorithm CAAlgorithm
	Hash      []byte
}

// TextContentAddress builds a Text-method content address, the only
// variant that (per spec.md §3) is restricted to a fixed algorithm.
func TextContentAddress(sha256Hash []byte) ContentAddress {
	return ContentAddress{Method: CAMethodText, Algorithm: CAAlgorithmSHA256, Hash: sha256Hash}
}

// ValidPathInfo describes one path already present in the store.
type ValidPathInfo struct {
	Path         StorePath
	Deriver      StorePath // Empty() if none
	NARHash      []byte
	References   []StorePath
	RegisteredAt time.Time
	NARSize      uint64
	Ultimate     bool
	Signatures   []string // "keyname:base64sig"
	CA           *ContentAddress
}

// Derivation is a self-contained description of how to build one or
// more outputs.
type Derivation struct {
	Name            string
	Outputs         map[string]DerivationOutput
	InputDerivation []DerivedPath
	InputSources    []StorePath
	Platform        string
	Builder         string
	Args            []string
	Env             []wireMapEntry
}

// wireMapEntry mirrors wire.MapEntry[string,string] without importing
// package wire into the type declarations that lib/storeclient
// consumes; codec.go and handshake.go convert between the two at the
// codec boundary.
type wireMapEntry struct {
	Key   string
	Value string
}

// DerivationOutput describes one named output of a Derivation: either
// a fixed, precomputed path (input-addressed or fixed-CA) or a
// deferred, content-addressed one resolved only after the build runs.
type DerivationOutput struct {
	Path *StorePath // nil if content-addressed and not yet known
	CA   *ContentAddress
}

// DerivedPathTag discriminates the DerivedPath variant.
type DerivedPathTag uint8

const (
	DerivedPathOpaque DerivedPathTag = iota
	DerivedPathBuilt
)

// DerivedPath is the recursive variant Opaque(StorePath) |
// Built{drv,outputs}. Built.Derivation may itself be a Built
// DerivedPath, modelling a dynamic derivation whose own derivation is
// the output of another build.
type DerivedPath struct {
	Tag        DerivedPathTag
	Opaque     StorePath
	Derivation *DerivedPath
	Outputs    []string // output names wanted, for Tag == DerivedPathBuilt
}

// BuildMode selects how BuildPaths/BuildPathsWithResults/
// BuildDerivation treats already-valid outputs.
type BuildMode uint8

const (
	BuildModeNormal BuildMode = iota
	BuildModeRepair
	BuildModeCheck
)

// BuildStatus is the closed enum from spec.md §4.7.
type BuildStatus uint8

const (
	BuildBuilt BuildStatus = iota
	BuildSubstituted
	BuildAlreadyValid
	BuildPermanentFailure
	BuildInputRejected
	BuildOutputRejected
	BuildTransientFailure
	BuildCachedFailure
	BuildTimedOut
	BuildMiscFailure
	BuildDependencyFailed
	BuildLogLimitExceeded
	BuildNotDeterministic
	BuildResolvesToAlreadyValid
	BuildNoSubstituters
)

// TerminalSuccess reports whether status represents a completed,
// successful build (no retry, no failure to report).
func (s BuildStatus) TerminalSuccess() bool {
	switch s {
	case BuildBuilt, BuildSubstituted, BuildAlreadyValid, BuildResolvesToAlreadyValid:
		return true
	default:
		return false
	}
}

// TerminalFailure reports whether status represents a failure the
// caller should not retry without changing something.
func (s BuildStatus) TerminalFailure() bool {
	switch s {
	case BuildCachedFailure, BuildPermanentFailure, BuildInputRejected, BuildOutputRejected, BuildNotDeterministic:
		return true
	default:
		return false
	}
}

// Retryable reports whether status suggests the same build might
// succeed on a later attempt.
func (s BuildStatus) Retryable() bool {
	return s == BuildTransientFailure || s == BuildTimedOut
}

// BuildResult is the outcome of a Build* operation.
type BuildResult struct {
	Status        BuildStatus
	ErrorMessage  string
	StartTime     time.Time
	StopTime      time.Time
	BuiltOutputs  map[string]Realisation
	DependencyErr *BuildResult // never set by ReadBuildResult; nil unless the caller fills it in
}

// DrvOutput identifies one output of a content-addressed derivation.
type DrvOutput struct {
	DrvHash    []byte
	OutputName string
}

// Realisation is the resolved mapping from a DrvOutput to a concrete
// StorePath after a build.
type Realisation struct {
	ID           DrvOutput
	OutPath      StorePath
	Signatures   []string
	Dependencies []DrvOutput
}

// GCAction selects a CollectGarbage mode.
type GCAction uint8

const (
	GCReturnLive GCAction = iota
	GCReturnDead
	GCDeleteDead
	GCDeleteSpecific
)

// GCOptions parametrises a CollectGarbage call.
type GCOptions struct {
	Action          GCAction
	PathsToDelete   []StorePath
	IgnoreLiveness  bool
	MaxFreedBytes   uint64
}

// TrustState is the tri-state "remote trusts us" flag from the
// handshake (spec.md §4.2 step 6), sent only at negotiated minor >=
// 35.
type TrustState uint8

const (
	TrustUnknown TrustState = iota
	TrustTrusted
	TrustNotTrusted
)

// Verbosity mirrors the daemon's log-verbosity levels used to gate
// Next-frame delivery to the ambient logger.
type Verbosity uint8

const (
	VerbosityError Verbosity = iota
	VerbosityWarn
	VerbosityNotice
	VerbosityInfo
	VerbosityTalkative
	VerbosityChatty
	VerbosityDebug
	VerbosityVomit
)

// Settings is the typed enumeration of tunables SetOptions delivers,
// per spec.md §6.
type Settings struct {
	KeepFailed      bool
	KeepGoing       bool
	TryFallback     bool
	Verbosity       Verbosity
	MaxBuildJobs    uint64
	MaxSilentTime   uint64
	BuildCores      uint64
	UseSubstitutes  bool
	Overrides       []wireMapEntry
}
