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
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/bracepatch/pkg/backup"
	"github.com/walteh/bracepatch/pkg/balance"
	"github.com/walteh/bracepatch/pkg/repair"
	"github.com/walteh/bracepatch/pkg/rules"
	"github.com/walteh/bracepatch/pkg/scan"
)

// State is one node of the per-run state machine.
type State int

const (
	Loaded State = iota
	Snapshotted
	Analyzed
	RulesApplied
	ReAnalyzed
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Snapshotted:
		return "snapshotted"
	case Analyzed:
		return "analyzed"
	case RulesApplied:
		return "rules_applied"
	case ReAnalyzed:
		return "reanalyzed"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// SourceUnit is one target file for the duration of one run. The
// engine owns it exclusively from load to terminal state; Version is
// the compare-and-swap token recorded with its snapshot.
type SourceUnit struct {
	ID      string // stable identifier, usually the path relative to the working tree
	Path    string // where the bytes live on disk
	Text    []byte
	Version int
}

// LoadUnit reads one target into a SourceUnit.
func LoadUnit(id, path string) (*SourceUnit, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("loading unit %s: %w", id, err)
	}
	return &SourceUnit{ID: id, Path: path, Text: text}, nil
}

// ReportCounts summarizes one balance report for the run result.
type ReportCounts struct {
	UnmatchedOpens  int `json:"unmatched_opens"`
	UnmatchedCloses int `json:"unmatched_closes"`
}

func countsOf(r *balance.Report) ReportCounts {
	return ReportCounts{
		UnmatchedOpens:  len(r.UnmatchedOpens()),
		UnmatchedCloses: len(r.UnmatchedCloses()),
	}
}

// ActionRecord is one row of the run's ordered action log: a rule or
// the repair, whether it applied, and why not if it didn't.
type ActionRecord struct {
	Name         string `json:"name"`
	Applied      bool   `json:"applied"`
	Reason       string `json:"reason,omitempty"`
	Replacements int    `json:"replacements,omitempty"`
}

// RunResult is the machine-readable outcome of one unit's run.
type RunResult struct {
	Unit          string         `json:"unit"`
	BackupVersion int            `json:"backup_version"`
	Initial       ReportCounts   `json:"initial"`
	Actions       []ActionRecord `json:"actions"`
	Final         ReportCounts   `json:"final"`
	State         State          `json:"-"`
	StateName     string         `json:"state"`
	Success       bool           `json:"success"`

	// Diagnostics explain every non-committed outcome: which lines
	// and columns were implicated, never a silent no-op.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Options wires the engine's collaborators.
type Options struct {
	Scanner  *scan.Scanner
	Analyzer *balance.Analyzer
	Rules    []rules.Rule
	Backups  *backup.Manager

	// CheckOnly analyzes without snapshotting or mutating anything.
	CheckOnly bool
}

// Engine runs the snapshot → analyze → rewrite → verify pipeline for
// source units. It is the only component that mutates persisted state.
type Engine struct {
	scanner  *scan.Scanner
	analyzer *balance.Analyzer
	rules    []rules.Rule
	backups  *backup.Manager
	check    bool
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Scanner == nil {
		return nil, errors.New("scanner is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if opts.Backups == nil && !opts.CheckOnly {
		return nil, errors.New("backup manager is required")
	}
	return &Engine{
		scanner:  opts.Scanner,
		analyzer: opts.Analyzer,
		rules:    opts.Rules,
		backups:  opts.Backups,
		check:    opts.CheckOnly,
	}, nil
}

// analyze runs the scanner and balance model over text.
func (e *Engine) analyze(text []byte) *balance.Report {
	return e.analyzer.Analyze(text, e.scanner.Scan(text))
}

// Check scans and analyzes a unit without touching it.
func (e *Engine) Check(ctx context.Context, unit *SourceUnit) *RunResult {
	report := e.analyze(unit.Text)
	counts := countsOf(report)

	result := &RunResult{
		Unit:      unit.ID,
		Initial:   counts,
		Final:     counts,
		State:     Analyzed,
		StateName: Analyzed.String(),
		Success:   report.Balanced(),
	}
	if !report.Balanced() {
		result.Diagnostics = diagnose(report)
	}
	return result
}

// Run drives one unit through the full state machine. It returns an
// error only for I/O failures; rule conflicts and ambiguous imbalance
// resolve to a RolledBack result with diagnostics instead.
func (e *Engine) Run(ctx context.Context, unit *SourceUnit) (*RunResult, error) {
	logger := zerolog.Ctx(ctx)

	if e.check {
		return e.Check(ctx, unit), nil
	}

	// Loaded → Snapshotted. The snapshot version doubles as the CAS
	// token: a concurrent run on the same unit fails here instead of
	// racing on the file.
	unit.Version = e.backups.NextVersion(unit.ID)
	snap, err := e.backups.Snapshot(ctx, unit.ID, unit.Version, unit.Text)
	if err != nil {
		return nil, errors.Errorf("snapshotting %s: %w", unit.ID, err)
	}

	result := &RunResult{
		Unit:          unit.ID,
		BackupVersion: unit.Version,
		State:         Snapshotted,
	}

	// Snapshotted → Analyzed.
	initial := e.analyze(unit.Text)
	result.Initial = countsOf(initial)
	result.State = Analyzed

	if err := ctx.Err(); err != nil {
		return e.rollback(ctx, unit, snap, result, "cancelled before mutation")
	}

	// Analyzed → RulesApplied. Rules first, then — only if the text
	// is still imbalanced — one repair action.
	text, appliedLog, err := rules.Apply(ctx, e.rules, unit.ID, unit.Text)
	if err != nil {
		if errors.Is(err, rules.ErrConflict) {
			return e.rollback(ctx, unit, snap, result, err.Error())
		}
		return nil, errors.Errorf("applying rules to %s: %w", unit.ID, err)
	}
	for _, row := range appliedLog {
		result.Actions = append(result.Actions, ActionRecord{
			Name:         row.Rule,
			Applied:      row.Applied,
			Reason:       row.Reason,
			Replacements: row.Replacements,
		})
	}

	postRules := e.analyze(text)
	if !postRules.Balanced() {
		action := repair.Plan(postRules)
		record := ActionRecord{Name: "repair:" + action.Type.String()}

		repaired, err := repair.Execute(text, action)
		if err != nil {
			record.Reason = action.Reason
			result.Actions = append(result.Actions, record)
			result.Diagnostics = append(result.Diagnostics, diagnose(postRules)...)
			return e.rollback(ctx, unit, snap, result, "imbalance is not safely repairable: "+action.Reason)
		}
		record.Applied = action.Type != repair.NoOp
		result.Actions = append(result.Actions, record)
		text = repaired
	}
	result.State = RulesApplied

	// RulesApplied → ReAnalyzed.
	final := e.analyze(text)
	result.Final = countsOf(final)
	result.State = ReAnalyzed

	if !final.Balanced() {
		result.Diagnostics = append(result.Diagnostics, diagnose(final)...)
		return e.rollback(ctx, unit, snap, result, "still imbalanced after repair")
	}

	if err := ctx.Err(); err != nil {
		return e.rollback(ctx, unit, snap, result, "cancelled before commit")
	}

	// ReAnalyzed → Committed: write back only now, and fall back to
	// the snapshot if even that write fails partway.
	if err := os.WriteFile(unit.Path, text, 0o644); err != nil {
		if restoreErr := e.backups.Restore(ctx, snap, unit.Path); restoreErr != nil {
			return nil, errors.Errorf("writing %s failed (%v) and restore failed too: %w",
				unit.Path, err, restoreErr)
		}
		return nil, errors.Errorf("writing %s: %w", unit.Path, err)
	}
	unit.Text = text
	unit.Version++

	result.State = Committed
	result.StateName = Committed.String()
	result.Success = true

	logger.Info().
		Str("unit", unit.ID).
		Int("version", unit.Version).
		Msg("committed")
	return result, nil
}

// rollback restores the unit's persisted bytes from its snapshot and
// finalizes the result as RolledBack. The reason and the report's
// line/col diagnostics travel with the result.
func (e *Engine) rollback(ctx context.Context, unit *SourceUnit, snap *backup.Backup, result *RunResult, reason string) (*RunResult, error) {
	if err := e.backups.Restore(ctx, snap, unit.Path); err != nil {
		return nil, errors.Errorf("rolling back %s: %w", unit.ID, err)
	}

	result.State = RolledBack
	result.StateName = RolledBack.String()
	result.Success = false
	result.Diagnostics = append(result.Diagnostics, reason)

	zerolog.Ctx(ctx).Warn().
		Str("unit", unit.ID).
		Str("reason", reason).
		Msg("rolled back")
	return result, nil
}

// diagnose renders every unmatched entry of a report with its position.
func diagnose(report *balance.Report) []string {
	var out []string
	for _, e := range report.Entries {
		switch e.Outcome {
		case balance.UnmatchedOpen:
			out = append(out, fmt.Sprintf("unmatched %q opened at line %d col %d",
				string(e.Event.Kind.Open), e.Event.Line, e.Event.Col))
		case balance.UnmatchedClose:
			out = append(out, fmt.Sprintf("unmatched %q closed at line %d col %d",
				string(e.Event.Kind.Close), e.Event.Line, e.Event.Col))
		}
	}
	return out
}
