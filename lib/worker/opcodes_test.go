// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import "testing"

func TestOpCheckSupported(t *testing.T) {
	if err := OpQueryRealisation.CheckSupported(26); err == nil {
		t.Fatal("expected Unsupported at minor 26 for QueryRealisation (requires 27)")
	}
	if err := OpQueryRealisation.CheckSupported(27); err != nil {
		t.Fatalf("expected support at minor 27, got %v", err)
	}

	kind, ok := KindOf(OpQueryRealisation.CheckSupported(20))
	if !ok || kind != KindUnsupported {
		t.Fatalf("expected KindUnsupported, got kind=%v ok=%v", kind, ok)
	}
}

func TestOpMinMinorMonotonic(t *testing.T) {
	// Every version-gated op in spec.md §4.3 keeps a stable, documented
	// floor; a regression here means an op quietly changed its gate.
	want := map[Op]uint8{
		OpQueryDerivationOutputMap: 22,
		OpAddToStoreNar:            23,
		OpAddToStore:               25,
		OpQueryRealisation:         27,
		OpRegisterDrvOutput:        27,
		OpAddMultipleToStore:       32,
		OpBuildPathsWithResults:    34,
	}
	for op, minor := range want {
		if got := op.MinMinor(); got != minor {
			t.Errorf("%s.MinMinor() = %d, want %d", op, got, minor)
		}
	}
}

func TestOpStringNeverEmpty(t *testing.T) {
	ops := []Op{
		OpIsValidPath, OpQueryValidPaths, OpQueryAllValidPaths, OpQuerySubstitutablePaths,
		OpQuerySubstitutablePathInfos, OpQueryPathInfo, OpQueryReferrers, OpQueryValidDerivers,
		OpQueryDerivationOutputs, OpQueryDerivationOutputMap, OpQueryPathFromHashPart,
		OpQueryMissing, OpQueryRealisation, OpAddToStore, OpAddTextToStore, OpAddToStoreNar,
		OpAddMultipleToStore, OpAddSignatures, OpAddTempRoot, OpAddBuildLog, OpRegisterDrvOutput,
		OpBuildPaths, OpBuildPathsWithResults, OpBuildDerivation, OpEnsurePath, OpSetOptions,
		OpFindRoots, OpCollectGarbage, OpOptimiseStore, OpVerifyStore, OpNarFromPath,
	}
	seen := map[string]Op{}
	for _, op := range ops {
		name := op.String()
		if name == "" || name == "Op(unknown)" {
			t.Errorf("%d: missing name", op)
		}
		if other, dup := seen[name]; dup {
			t.Errorf("opcodes %d and %d both stringify to %q", op, other, name)
		}
		seen[name] = op
	}
}
