package config

import (
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/bracepatch/pkg/balance"
	"github.com/walteh/bracepatch/pkg/rules"
	"github.com/walteh/bracepatch/pkg/scan"
)

// RuleConfig is the declarative form of one rewrite rule as it appears
// in a config file. Kind selects the variant: "literal", "pattern", or
// "line_range".
type RuleConfig struct {
	Name     string `json:"name" yaml:"name" hcl:"name,label"`
	Kind     string `json:"kind" yaml:"kind" hcl:"kind"`
	From     string `json:"from,omitempty" yaml:"from,omitempty" hcl:"from,optional"`
	To       string `json:"to,omitempty" yaml:"to,omitempty" hcl:"to,optional"`
	Pattern  string `json:"pattern,omitempty" yaml:"pattern,omitempty" hcl:"pattern,optional"`
	Template string `json:"template,omitempty" yaml:"template,omitempty" hcl:"template,optional"`

	StartLine int      `json:"start_line,omitempty" yaml:"start_line,omitempty" hcl:"start_line,optional"`
	EndLine   int      `json:"end_line,omitempty" yaml:"end_line,omitempty" hcl:"end_line,optional"`
	NewLines  []string `json:"new_lines,omitempty" yaml:"new_lines,omitempty" hcl:"new_lines,optional"`

	FileGlob string `json:"file_glob,omitempty" yaml:"file_glob,omitempty" hcl:"file_glob,optional"`
}

// DialectConfig selects the literal and comment forms the scanner
// recognizes. Zero values fall back to the Rust/C-family defaults.
type DialectConfig struct {
	LineComment    string `json:"line_comment,omitempty" yaml:"line_comment,omitempty" hcl:"line_comment,optional"`
	BlockOpen      string `json:"block_open,omitempty" yaml:"block_open,omitempty" hcl:"block_open,optional"`
	BlockClose     string `json:"block_close,omitempty" yaml:"block_close,omitempty" hcl:"block_close,optional"`
	NestedComments *bool  `json:"nested_comments,omitempty" yaml:"nested_comments,omitempty" hcl:"nested_comments,optional"`
	RawStrings     *bool  `json:"raw_strings,omitempty" yaml:"raw_strings,omitempty" hcl:"raw_strings,optional"`
	CharLiterals   *bool  `json:"char_literals,omitempty" yaml:"char_literals,omitempty" hcl:"char_literals,optional"`
}

// Config is the complete engine configuration for one invocation.
type Config struct {
	// Targets are doublestar globs selecting the units to process.
	Targets []string `json:"targets" yaml:"targets" hcl:"targets"`

	// BackupDir receives the snapshot objects and manifest.
	BackupDir string `json:"backup_dir" yaml:"backup_dir" hcl:"backup_dir"`

	// Delimiters lists the tracked pairs as two-character strings
	// ("{}", "()", "[]"). Empty means all three defaults.
	Delimiters []string `json:"delimiters,omitempty" yaml:"delimiters,omitempty" hcl:"delimiters,optional"`

	Dialect *DialectConfig `json:"dialect,omitempty" yaml:"dialect,omitempty" hcl:"dialect,block"`

	Rules []RuleConfig `json:"rules,omitempty" yaml:"rules,omitempty" hcl:"rule,block"`

	// Workers bounds the parallel unit pool; 0 means one worker.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty" hcl:"workers,optional"`

	location string
}

// Location returns the path the config was loaded from.
func (c *Config) Location() string {
	return c.location
}

// ResolvedBackupDir resolves a relative backup_dir against the config
// file's directory, so runs behave the same from any working
// directory.
func (c *Config) ResolvedBackupDir() string {
	if filepath.IsAbs(c.BackupDir) || c.location == "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.location), c.BackupDir)
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return errors.New("at least one target glob is required")
	}
	for _, g := range c.Targets {
		if !doublestar.ValidatePattern(g) {
			return errors.Errorf("invalid target glob %q", g)
		}
	}
	if c.BackupDir == "" {
		return errors.New("backup_dir is required")
	}
	for _, d := range c.Delimiters {
		if len(d) != 2 {
			return errors.Errorf("delimiter pair %q must be exactly two characters", d)
		}
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	compiled, err := c.CompileRules()
	if err != nil {
		return err
	}
	if err := rules.Validate(compiled); err != nil {
		return errors.Errorf("validating rules: %w", err)
	}
	return nil
}

// CompileRules converts the declarative rule configs into engine rules,
// preserving order.
func (c *Config) CompileRules() ([]rules.Rule, error) {
	out := make([]rules.Rule, 0, len(c.Rules))
	for i, rc := range c.Rules {
		r := rules.Rule{
			Name:      rc.Name,
			From:      rc.From,
			To:        rc.To,
			Pattern:   rc.Pattern,
			Template:  rc.Template,
			StartLine: rc.StartLine,
			EndLine:   rc.EndLine,
			NewLines:  rc.NewLines,
			FileGlob:  rc.FileGlob,
		}
		switch rc.Kind {
		case "literal":
			r.Kind = rules.LiteralReplace
		case "pattern":
			r.Kind = rules.PatternRewrite
		case "line_range":
			r.Kind = rules.LineRangeReplace
		default:
			return nil, errors.Errorf("rule %d (%s): unknown kind %q", i, rc.Name, rc.Kind)
		}
		out = append(out, r)
	}
	return out, nil
}

// DelimiterKinds returns the configured delimiter pairs, defaulting to
// braces, parentheses, and brackets.
func (c *Config) DelimiterKinds() []balance.Kind {
	if len(c.Delimiters) == 0 {
		return balance.DefaultKinds()
	}
	out := make([]balance.Kind, 0, len(c.Delimiters))
	for _, d := range c.Delimiters {
		out = append(out, balance.Kind{Open: d[0], Close: d[1]})
	}
	return out
}

// ScanDialect resolves the configured dialect over the defaults.
func (c *Config) ScanDialect() scan.Dialect {
	d := scan.DefaultDialect()
	if c.Dialect == nil {
		return d
	}
	if c.Dialect.LineComment != "" {
		d.LineComment = c.Dialect.LineComment
	}
	if c.Dialect.BlockOpen != "" {
		d.BlockOpen = c.Dialect.BlockOpen
	}
	if c.Dialect.BlockClose != "" {
		d.BlockClose = c.Dialect.BlockClose
	}
	if c.Dialect.NestedComments != nil {
		d.NestedComments = *c.Dialect.NestedComments
	}
	if c.Dialect.RawStrings != nil {
		d.RawStrings = *c.Dialect.RawStrings
	}
	if c.Dialect.CharLiterals != nil {
		d.CharLiterals = *c.Dialect.CharLiterals
	}
	return d
}
