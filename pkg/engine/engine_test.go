// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/bracepatch/pkg/backup"
	"github.com/walteh/bracepatch/pkg/balance"
	"github.com/walteh/bracepatch/pkg/rules"
	"github.com/walteh/bracepatch/pkg/scan"
)

type fixture struct {
	engine *Engine
	dir    string
}

func newFixture(t *testing.T, ruleset []rules.Rule) *fixture {
	t.Helper()
	dir := t.TempDir()

	backups, err := backup.NewManager(filepath.Join(dir, "backups"))
	require.NoError(t, err)

	eng, err := New(Options{
		Scanner:  scan.NewScanner(scan.DefaultDialect()),
		Analyzer: balance.NewAnalyzer(balance.DefaultKinds()),
		Rules:    ruleset,
		Backups:  backups,
	})
	require.NoError(t, err)

	return &fixture{engine: eng, dir: dir}
}

func (f *fixture) writeUnit(t *testing.T, name, content string) *SourceUnit {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	unit, err := LoadUnit(name, path)
	require.NoError(t, err)
	return unit
}

func (f *fixture) readUnit(t *testing.T, name string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(f.dir, name))
	require.NoError(t, err)
	return string(content)
}

func TestEngine_Run_AppendsMissingCloser(t *testing.T) {
	f := newFixture(t, nil)
	unit := f.writeUnit(t, "f.rs", "fn f() { if (x) { return 1; }")

	result, err := f.engine.Run(context.Background(), unit)
	require.NoError(t, err)

	assert.Equal(t, Committed, result.State)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Initial.UnmatchedOpens)
	assert.Equal(t, ReportCounts{}, result.Final)

	require.Len(t, result.Actions, 1)
	assert.Equal(t, "repair:append_closers", result.Actions[0].Name)

	written := f.readUnit(t, "f.rs")
	assert.Equal(t, "fn f() { if (x) { return 1; }\n}\n", written)
}

func TestEngine_Run_StripsExcessClosers(t *testing.T) {
	f := newFixture(t, nil)
	unit := f.writeUnit(t, "g.rs", "fn g() { h(); }\n}\n}\n")

	result, err := f.engine.Run(context.Background(), unit)
	require.NoError(t, err)

	assert.Equal(t, Committed, result.State)
	assert.Equal(t, 2, result.Initial.UnmatchedCloses)
	assert.Equal(t, ReportCounts{}, result.Final)
}

func TestEngine_Run_InterleavedRollsBack(t *testing.T) {
	original := "{ a } } {"
	f := newFixture(t, nil)
	unit := f.writeUnit(t, "amb.rs", original)

	result, err := f.engine.Run(context.Background(), unit)
	require.NoError(t, err)

	assert.Equal(t, RolledBack, result.State)
	assert.False(t, result.Success)
	assert.Equal(t, original, f.readUnit(t, "amb.rs"), "original bytes must be unchanged")

	// Every non-committed outcome must say which positions were
	// implicated.
	require.NotEmpty(t, result.Diagnostics)
	assert.Contains(t, result.Diagnostics[0], "line 1")
}

func TestEngine_Run_AppliesRulesThenCommits(t *testing.T) {
	ruleset := []rules.Rule{
		{Name: "fix-gep", Kind: rules.PatternRewrite,
			Pattern:  `build_struct_gep\(([^,]+), ([^,]+), ([^,]+), ([^)]+)\)`,
			Template: "build_struct_gep($3, $4)"},
		{Name: "unused", Kind: rules.LiteralReplace, From: "never-present", To: "x"},
	}
	f := newFixture(t, ruleset)
	unit := f.writeUnit(t, "codegen.rs", "fn c() { b.build_struct_gep(ty, p, 0, \"f\"); }\n")

	result, err := f.engine.Run(context.Background(), unit)
	require.NoError(t, err)

	assert.Equal(t, Committed, result.State)
	require.Len(t, result.Actions, 2)
	assert.True(t, result.Actions[0].Applied)
	assert.Equal(t, 1, result.Actions[0].Replacements)
	assert.False(t, result.Actions[1].Applied)
	assert.Equal(t, rules.SkipNoMatch, result.Actions[1].Reason)

	assert.Contains(t, f.readUnit(t, "codegen.rs"), "build_struct_gep(0, \"f\")")
}

func TestEngine_Run_RuleConflictRollsBack(t *testing.T) {
	ruleset := []rules.Rule{
		{Name: "first", Kind: rules.LiteralReplace, From: "alpha", To: "beta"},
		{Name: "second", Kind: rules.LiteralReplace, From: "beta", To: "gamma"},
	}
	original := "fn f() { alpha(); }\n"
	f := newFixture(t, ruleset)
	unit := f.writeUnit(t, "conflict.rs", original)

	result, err := f.engine.Run(context.Background(), unit)
	require.NoError(t, err)

	assert.Equal(t, RolledBack, result.State)
	assert.Equal(t, original, f.readUnit(t, "conflict.rs"))
	require.NotEmpty(t, result.Diagnostics)
	assert.Contains(t, result.Diagnostics[len(result.Diagnostics)-1], "conflicting rewrites")
}

func TestEngine_Run_RuleThatBreaksBalanceRollsBack(t *testing.T) {
	// A rule set that introduces a stray closer before matched code
	// cannot be repaired safely and must roll back.
	ruleset := []rules.Rule{
		{Name: "bad", Kind: rules.LiteralReplace, From: "// marker", To: "}"},
	}
	original := "// marker\nfn f() { g(); }\n"
	f := newFixture(t, ruleset)
	unit := f.writeUnit(t, "broken.rs", original)

	result, err := f.engine.Run(context.Background(), unit)
	require.NoError(t, err)

	assert.Equal(t, RolledBack, result.State)
	assert.Equal(t, original, f.readUnit(t, "broken.rs"))
}

func TestEngine_Run_BalancedNoRulesIsCleanCommit(t *testing.T) {
	f := newFixture(t, nil)
	original := "fn ok() { }\n"
	unit := f.writeUnit(t, "ok.rs", original)

	result, err := f.engine.Run(context.Background(), unit)
	require.NoError(t, err)

	assert.Equal(t, Committed, result.State)
	assert.True(t, result.Success)
	assert.Empty(t, result.Actions)
	assert.Equal(t, original, f.readUnit(t, "ok.rs"))
}

func TestEngine_Run_VersionsChainAcrossRuns(t *testing.T) {
	f := newFixture(t, nil)
	unit := f.writeUnit(t, "v.rs", "fn f() {")

	first, err := f.engine.Run(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, 1, first.BackupVersion)

	reloaded, err := LoadUnit("v.rs", filepath.Join(f.dir, "v.rs"))
	require.NoError(t, err)
	second, err := f.engine.Run(context.Background(), reloaded)
	require.NoError(t, err)
	assert.Equal(t, 2, second.BackupVersion)
}

func TestEngine_Check_DoesNotTouchAnything(t *testing.T) {
	dir := t.TempDir()
	eng, err := New(Options{
		Scanner:   scan.NewScanner(scan.DefaultDialect()),
		Analyzer:  balance.NewAnalyzer(balance.DefaultKinds()),
		CheckOnly: true,
	})
	require.NoError(t, err)

	path := filepath.Join(dir, "c.rs")
	original := "fn c() { unbalanced("
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))
	unit, err := LoadUnit("c.rs", path)
	require.NoError(t, err)

	result, err := eng.Run(context.Background(), unit)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Initial.UnmatchedOpens)
	assert.NotEmpty(t, result.Diagnostics)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(content))
}

func TestEngine_Run_CancelledContextRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	original := "fn f() {"
	unit := f.writeUnit(t, "cancel.rs", original)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.engine.Run(ctx, unit)
	require.NoError(t, err)
	assert.Equal(t, RolledBack, result.State)
	assert.Equal(t, original, f.readUnit(t, "cancel.rs"))
}

func TestEngine_RunBatch(t *testing.T) {
	f := newFixture(t, nil)
	units := []*SourceUnit{
		f.writeUnit(t, "a.rs", "fn a() {"),
		f.writeUnit(t, "b.rs", "fn b() { }"),
		f.writeUnit(t, "c.rs", "{ x } } {"),
	}

	results, err := f.engine.RunBatch(context.Background(), units, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a.rs", results[0].Unit)
	assert.Equal(t, Committed, results[0].State)
	assert.Equal(t, Committed, results[1].State)
	assert.Equal(t, RolledBack, results[2].State)
}

func TestEngine_RoundTripViaBackup(t *testing.T) {
	f := newFixture(t, []rules.Rule{
		{Name: "mutate", Kind: rules.LiteralReplace, From: "one", To: "two"},
	})
	original := "fn r() { one(); }\n"
	unit := f.writeUnit(t, "rt.rs", original)

	result, err := f.engine.Run(context.Background(), unit)
	require.NoError(t, err)
	require.Equal(t, Committed, result.State)
	assert.Contains(t, f.readUnit(t, "rt.rs"), "two()")

	// Unwind the commit through the backup chain.
	backups, err := backup.NewManager(filepath.Join(f.dir, "backups"))
	require.NoError(t, err)
	snap, ok := backups.Find("rt.rs", result.BackupVersion)
	require.True(t, ok)
	require.NoError(t, backups.Restore(context.Background(), snap, filepath.Join(f.dir, "rt.rs")))

	assert.Equal(t, original, f.readUnit(t, "rt.rs"))
}
