package rules

import (
	"bytes"
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// ErrConflict is returned when a rule would rewrite a span already
// rewritten by an earlier rule in the same run. Conflicts are fatal for
// the run: silent double-application is exactly the failure mode this
// engine exists to remove.
var ErrConflict = errors.New("conflicting rewrites")

// Kind discriminates the rule variants.
type Kind int

const (
	// LiteralReplace replaces every occurrence of From with To.
	LiteralReplace Kind = iota
	// PatternRewrite rewrites every match of Pattern using Template
	// ($1, ${name} capture references).
	PatternRewrite
	// LineRangeReplace replaces the 1-based inclusive line range
	// [StartLine, EndLine] with NewLines.
	LineRangeReplace
)

func (k Kind) String() string {
	switch k {
	case LiteralReplace:
		return "literal"
	case PatternRewrite:
		return "pattern"
	case LineRangeReplace:
		return "line_range"
	default:
		return "unknown"
	}
}

// Rule is one declarative text transformation. Rules are data: they
// carry no state and are pure functions of text.
type Rule struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"-" yaml:"-"`

	// LiteralReplace
	From string `json:"from,omitempty" yaml:"from,omitempty"`
	To   string `json:"to,omitempty" yaml:"to,omitempty"`

	// PatternRewrite
	Pattern  string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Template string `json:"template,omitempty" yaml:"template,omitempty"`

	// LineRangeReplace
	StartLine int      `json:"start_line,omitempty" yaml:"start_line,omitempty"`
	EndLine   int      `json:"end_line,omitempty" yaml:"end_line,omitempty"`
	NewLines  []string `json:"new_lines,omitempty" yaml:"new_lines,omitempty"`

	// FileGlob optionally restricts which units the rule applies to
	// (doublestar syntax, matched against the unit path).
	FileGlob string `json:"file_glob,omitempty" yaml:"file_glob,omitempty"`
}

// Applied is the log row for one rule in one run.
type Applied struct {
	Rule         string `json:"rule"`
	Kind         string `json:"kind"`
	Applied      bool   `json:"applied"`
	Reason       string `json:"reason,omitempty"` // set when skipped
	Replacements int    `json:"replacements"`
}

// Skip reasons recorded in the applied log.
const (
	SkipNoMatch      = "no match"
	SkipGlobMismatch = "file glob does not match unit"
)

// Validate checks a rule set for structural problems before any text is
// touched. Pattern rules must compile; line ranges must be ordered.
func Validate(ruleset []Rule) error {
	for i, r := range ruleset {
		switch r.Kind {
		case LiteralReplace:
			if r.From == "" {
				return errors.Errorf("rule %d (%s): from is required", i, r.Name)
			}
		case PatternRewrite:
			if r.Pattern == "" {
				return errors.Errorf("rule %d (%s): pattern is required", i, r.Name)
			}
			if _, err := regexp.Compile(r.Pattern); err != nil {
				return errors.Errorf("rule %d (%s): compiling pattern: %w", i, r.Name, err)
			}
		case LineRangeReplace:
			if r.StartLine < 1 || r.EndLine < r.StartLine {
				return errors.Errorf("rule %d (%s): invalid line range %d..%d",
					i, r.Name, r.StartLine, r.EndLine)
			}
		default:
			return errors.Errorf("rule %d (%s): unknown kind %d", i, r.Name, r.Kind)
		}
		if r.FileGlob != "" {
			if !doublestar.ValidatePattern(r.FileGlob) {
				return errors.Errorf("rule %d (%s): invalid file glob %q", i, r.Name, r.FileGlob)
			}
		}
	}
	return nil
}

// edit is one pending replacement in current-text coordinates.
type edit struct {
	start, end  int
	replacement []byte
}

// interval is a span of the current text produced by an earlier rule.
type interval struct {
	start, end int
}

// Apply runs the rule set against text in strict order. Each rule runs
// at most once, full-scan, on the accumulated output of the rules
// before it. A rule whose target overlaps a span rewritten earlier in
// the same run fails the whole application with ErrConflict.
func Apply(ctx context.Context, ruleset []Rule, unitPath string, text []byte) ([]byte, []Applied, error) {
	logger := zerolog.Ctx(ctx)

	if err := Validate(ruleset); err != nil {
		return nil, nil, errors.Errorf("validating rules: %w", err)
	}

	current := text
	log := make([]Applied, 0, len(ruleset))
	var written []interval

	for _, r := range ruleset {
		row := Applied{Rule: r.Name, Kind: r.Kind.String()}

		if r.FileGlob != "" {
			ok, err := doublestar.Match(r.FileGlob, unitPath)
			if err != nil {
				return nil, nil, errors.Errorf("rule %s: matching glob: %w", r.Name, err)
			}
			if !ok {
				row.Reason = SkipGlobMismatch
				log = append(log, row)
				continue
			}
		}

		edits, err := computeEdits(r, current)
		if err != nil {
			return nil, nil, errors.Errorf("rule %s: %w", r.Name, err)
		}
		if len(edits) == 0 {
			row.Reason = SkipNoMatch
			log = append(log, row)
			logger.Debug().Str("rule", r.Name).Msg("rule did not match, skipping")
			continue
		}

		for _, e := range edits {
			for _, w := range written {
				if e.start < w.end && w.start < e.end {
					return nil, nil, errors.Errorf(
						"rule %s rewrites bytes %d..%d already rewritten at %d..%d: %w",
						r.Name, e.start, e.end, w.start, w.end, ErrConflict)
				}
			}
		}

		current, written = splice(current, written, edits)
		row.Applied = true
		row.Replacements = len(edits)
		log = append(log, row)

		logger.Debug().
			Str("rule", r.Name).
			Int("replacements", len(edits)).
			Msg("rule applied")
	}

	return current, log, nil
}

// computeEdits expands one rule into its concrete replacements against
// the current text. Edits are returned in ascending, non-overlapping
// order.
func computeEdits(r Rule, text []byte) ([]edit, error) {
	switch r.Kind {
	case LiteralReplace:
		var edits []edit
		from := []byte(r.From)
		for off := 0; ; {
			i := bytes.Index(text[off:], from)
			if i < 0 {
				break
			}
			start := off + i
			edits = append(edits, edit{start: start, end: start + len(from), replacement: []byte(r.To)})
			off = start + len(from)
		}
		return edits, nil

	case PatternRewrite:
		re := regexp.MustCompile(r.Pattern) // validated above
		matches := re.FindAllSubmatchIndex(text, -1)
		edits := make([]edit, 0, len(matches))
		for _, m := range matches {
			repl := re.Expand(nil, []byte(r.Template), text, m)
			edits = append(edits, edit{start: m[0], end: m[1], replacement: repl})
		}
		return edits, nil

	case LineRangeReplace:
		start, end, err := lineRangeOffsets(text, r.StartLine, r.EndLine)
		if err != nil {
			return nil, err
		}
		repl := strings.Join(r.NewLines, "\n")
		if len(r.NewLines) > 0 {
			repl += "\n"
		}
		return []edit{{start: start, end: end, replacement: []byte(repl)}}, nil

	default:
		return nil, errors.Errorf("unknown rule kind %d", r.Kind)
	}
}

// lineRangeOffsets converts a 1-based inclusive line range into byte
// offsets covering those lines including the trailing newline of the
// last one.
func lineRangeOffsets(text []byte, startLine, endLine int) (int, int, error) {
	line := 1
	start, end := -1, -1
	if startLine == 1 {
		start = 0
	}
	for i, b := range text {
		if b != '\n' {
			continue
		}
		line++
		if line == startLine {
			start = i + 1
		}
		if line == endLine+1 {
			end = i + 1
			break
		}
	}
	if start < 0 {
		return 0, 0, errors.Errorf("line range %d..%d out of bounds (%d lines)",
			startLine, endLine, line)
	}
	if end < 0 {
		if line < endLine {
			return 0, 0, errors.Errorf("line range %d..%d out of bounds (%d lines)",
				startLine, endLine, line)
		}
		end = len(text) // range runs to EOF without trailing newline
	}
	return start, end, nil
}

// splice applies ascending non-overlapping edits to text and remaps the
// previously written intervals into the new coordinates, merging in the
// intervals these edits produce.
func splice(text []byte, written []interval, edits []edit) ([]byte, []interval) {
	var out []byte
	updated := make([]interval, 0, len(written)+len(edits))

	// Existing intervals shift by the cumulative delta of edits that
	// land before them. Conflict checking guarantees no edit overlaps
	// an existing interval.
	shiftAt := func(pos int) int {
		delta := 0
		for _, e := range edits {
			if e.end <= pos {
				delta += len(e.replacement) - (e.end - e.start)
			}
		}
		return delta
	}
	for _, w := range written {
		d := shiftAt(w.start)
		updated = append(updated, interval{start: w.start + d, end: w.end + d})
	}

	prev := 0
	delta := 0
	for _, e := range edits {
		out = append(out, text[prev:e.start]...)
		newStart := e.start + delta
		out = append(out, e.replacement...)
		updated = append(updated, interval{start: newStart, end: newStart + len(e.replacement)})
		delta += len(e.replacement) - (e.end - e.start)
		prev = e.end
	}
	out = append(out, text[prev:]...)

	sort.Slice(updated, func(i, j int) bool { return updated[i].start < updated[j].start })
	return out, updated
}
