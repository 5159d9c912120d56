// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

// Op is a worker-protocol operation code: a closed enum written as a
// u64 before an operation's arguments. Values are stable once
// assigned — a new operation gets a new number, an old one never
// changes — and adding an opcode requires bumping ClientMinor.
//
// These numeric values are internal to this implementation; nothing
// in this codebase claims they are byte-identical to any other
// implementation's wire encoding, only that this client and its own
// test daemon agree on them.
type Op uint64

const (
	OpIsValidPath Op = 1 + iota
	OpQueryValidPaths
	OpQueryAllValidPaths
	OpQuerySubstitutablePaths
	OpQuerySubstitutablePathInfos
	OpQueryPathInfo
	OpQueryReferrers
	OpQueryValidDerivers
	OpQueryDerivationOutputs
	OpQueryDerivationOutputMap
	OpQueryPathFromHashPart
	OpQueryMissing
	OpQueryRealisation

	OpAddToStore
	OpAddTextToStore
	OpAddToStoreNar
	OpAddMultipleToStore
	OpAddSignatures
	OpAddTempRoot
	OpAddBuildLog
	OpRegisterDrvOutput

	OpBuildPaths
	OpBuildPathsWithResults
	OpBuildDerivation
	OpEnsurePath

	OpSetOptions
	OpFindRoots
	OpCollectGarbage
	OpOptimiseStore
	OpVerifyStore
	OpNarFromPath
)

// MinMinor returns the lowest negotiated minor version at which op
// may be written to the wire. Per spec.md §8 property 3, invoking an
// operation whose MinMinor exceeds the negotiated minor must raise
// Unsupported without writing the opcode.
func (op Op) MinMinor() uint8 {
	switch op {
	case OpQueryDerivationOutputMap:
		return 22
	case OpAddToStoreNar:
		return 23
	case OpQueryRealisation, OpRegisterDrvOutput:
		return 27
	case OpAddToStore:
		return 25
	case OpAddMultipleToStore:
		return 32
	case OpBuildPathsWithResults:
		return 34
	default:
		return MinSupportedMinor
	}
}

// String returns op's identifier for error messages and logging.
func (op Op) String() string {
	switch op {
	case OpIsValidPath:
		return "IsValidPath"
	case OpQueryValidPaths:
		return "QueryValidPaths"
	case OpQueryAllValidPaths:
		return "QueryAllValidPaths"
	case OpQuerySubstitutablePaths:
		return "QuerySubstitutablePaths"
	case OpQuerySubstitutablePathInfos:
		return "QuerySubstitutablePathInfos"
	case OpQueryPathInfo:
		return "QueryPathInfo"
	case OpQueryReferrers:
		return "QueryReferrers"
	case OpQueryValidDerivers:
		return "QueryValidDerivers"
	case OpQueryDerivationOutputs:
		return "QueryDerivationOutputs"
	case OpQueryDerivationOutputMap:
		return "QueryDerivationOutputMap"
	case OpQueryPathFromHashPart:
		return "QueryPathFromHashPart"
	case OpQueryMissing:
		return "QueryMissing"
	case OpQueryRealisation:
		return "QueryRealisation"
	case OpAddToStore:
		return "AddToStore"
	case OpAddTextToStore:
		return "AddTextToStore"
	case OpAddToStoreNar:
		return "AddToStoreNar"
	case OpAddMultipleToStore:
		return "AddMultipleToStore"
	case OpAddSignatures:
		return "AddSignatures"
	case OpAddTempRoot:
		return "AddTempRoot"
	case OpAddBuildLog:
		return "AddBuildLog"
	case OpRegisterDrvOutput:
		return "RegisterDrvOutput"
	case OpBuildPaths:
		return "BuildPaths"
	case OpBuildPathsWithResults:
		return "BuildPathsWithResults"
	case OpBuildDerivation:
		return "BuildDerivation"
	case OpEnsurePath:
		return "EnsurePath"
	case OpSetOptions:
		return "SetOptions"
	case OpFindRoots:
		return "FindRoots"
	case OpCollectGarbage:
		return "CollectGarbage"
	case OpOptimiseStore:
		return "OptimiseStore"
	case OpVerifyStore:
		return "VerifyStore"
	case OpNarFromPath:
		return "NarFromPath"
	default:
		return "Op(unknown)"
	}
}

// CheckSupported returns an Unsupported *Error if op is not offered
// at negotiatedMinor, without writing anything to the wire. Callers
// must call this before writing an opcode.
func (op Op) CheckSupported(negotiatedMinor uint8) error {
	if negotiatedMinor < op.MinMinor() {
		return NewError(KindUnsupported, "%s requires protocol minor >= %d, negotiated %d", op, op.MinMinor(), negotiatedMinor)
	}
	return nil
}
