package balance

import (
	"fmt"

	"github.com/walteh/bracepatch/pkg/scan"
)

// Kind identifies one family of paired structural delimiters. Each kind
// is matched on its own stack: a closer of one kind never resolves an
// opener of another.
type Kind struct {
	Open  byte
	Close byte
}

// DefaultKinds covers braces, parentheses, and brackets.
func DefaultKinds() []Kind {
	return []Kind{
		{Open: '{', Close: '}'},
		{Open: '(', Close: ')'},
		{Open: '[', Close: ']'},
	}
}

// Event is one occurrence of a structural delimiter inside a Code span.
// Seq increases monotonically across the whole unit in textual order.
type Event struct {
	Kind   Kind
	Open   bool
	Offset int // byte offset in the unit
	Line   int
	Col    int
	Seq    int
}

// Outcome classifies one delimiter event after matching.
type Outcome int

const (
	Matched Outcome = iota
	UnmatchedOpen
	UnmatchedClose
)

// Entry is the report row for one event. For Matched openers, Partner
// is the sequence id of the resolving closer, and vice versa.
type Entry struct {
	Event   Event
	Outcome Outcome
	Partner int // partner seq for Matched, -1 otherwise
}

// Report is the full matching result for one unit. Entries appear in
// event (textual) order.
type Report struct {
	Entries []Entry
}

// UnmatchedOpens returns the unresolved openers in textual order.
func (r *Report) UnmatchedOpens() []Entry {
	return r.filter(UnmatchedOpen)
}

// UnmatchedCloses returns the unresolved closers in textual order.
func (r *Report) UnmatchedCloses() []Entry {
	return r.filter(UnmatchedClose)
}

func (r *Report) filter(o Outcome) []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Outcome == o {
			out = append(out, e)
		}
	}
	return out
}

// Balanced reports whether the unit had no unmatched delimiters.
func (r *Report) Balanced() bool {
	for _, e := range r.Entries {
		if e.Outcome != Matched {
			return false
		}
	}
	return true
}

// Summary renders the unmatched counts for logs and diagnostics.
func (r *Report) Summary() string {
	return fmt.Sprintf("unmatched_opens=%d unmatched_closes=%d",
		len(r.UnmatchedOpens()), len(r.UnmatchedCloses()))
}

// Analyzer matches structural delimiters over classified spans.
type Analyzer struct {
	kinds []Kind
}

// NewAnalyzer creates an analyzer for the given delimiter kinds.
func NewAnalyzer(kinds []Kind) *Analyzer {
	return &Analyzer{kinds: kinds}
}

// Analyze walks the Code spans of text in order and LIFO-matches each
// delimiter kind on its own stack. A closer with an empty stack is
// recorded UnmatchedClose and leaves the stack untouched; openers still
// on a stack at EOF are UnmatchedOpen.
func (a *Analyzer) Analyze(text []byte, spans []scan.Span) *Report {
	events := a.collect(text, spans)

	entries := make([]Entry, len(events))
	for i, ev := range events {
		entries[i] = Entry{Event: ev, Partner: -1}
	}

	stacks := make(map[Kind][]int, len(a.kinds)) // kind -> indices into entries
	for _, ev := range events {
		if ev.Open {
			stacks[ev.Kind] = append(stacks[ev.Kind], ev.Seq)
			entries[ev.Seq].Outcome = UnmatchedOpen // until resolved
			continue
		}
		stack := stacks[ev.Kind]
		if len(stack) == 0 {
			entries[ev.Seq].Outcome = UnmatchedClose
			continue
		}
		openSeq := stack[len(stack)-1]
		stacks[ev.Kind] = stack[:len(stack)-1]
		entries[openSeq].Outcome = Matched
		entries[openSeq].Partner = ev.Seq
		entries[ev.Seq].Outcome = Matched
		entries[ev.Seq].Partner = openSeq
	}

	return &Report{Entries: entries}
}

// collect extracts delimiter events from Code spans, skipping literal
// and comment spans entirely.
func (a *Analyzer) collect(text []byte, spans []scan.Span) []Event {
	var events []Event
	seq := 0
	for _, sp := range spans {
		if sp.Class != scan.Code {
			continue
		}
		line, col := sp.Line, sp.Col
		for i := sp.Start; i < sp.End; i++ {
			b := text[i]
			for _, k := range a.kinds {
				if b == k.Open || b == k.Close {
					events = append(events, Event{
						Kind:   k,
						Open:   b == k.Open,
						Offset: i,
						Line:   line,
						Col:    col,
						Seq:    seq,
					})
					seq++
					break
				}
			}
			if b == '\n' {
				line++
				col = 1
			} else {
				col++
			}
		}
	}
	return events
}
