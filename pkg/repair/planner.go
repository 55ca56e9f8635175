package repair

import (
	"sort"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/bracepatch/pkg/balance"
)

// ErrAmbiguous is returned when an imbalance cannot be repaired without
// guessing. The caller is expected to roll back and surface the reason.
var ErrAmbiguous = errors.New("ambiguous imbalance")

// Reasons attached to Unrepairable actions.
const (
	ReasonInterleaved = "interleaved-mismatch"
	ReasonExcessClose = "excess-close-ambiguous"
)

// ActionType discriminates the repair variants.
type ActionType int

const (
	NoOp ActionType = iota
	AppendClosers
	StripClosers
	Unrepairable
)

func (t ActionType) String() string {
	switch t {
	case NoOp:
		return "noop"
	case AppendClosers:
		return "append_closers"
	case StripClosers:
		return "strip_closers"
	case Unrepairable:
		return "unrepairable"
	default:
		return "unknown"
	}
}

// Action is the single repair decision for one analysis pass.
type Action struct {
	Type ActionType

	// Closers holds the synthesized closing delimiters for
	// AppendClosers, innermost first, so the appended text is itself
	// balanced.
	Closers []byte

	// Positions holds the byte offsets to delete for StripClosers, in
	// ascending textual order.
	Positions []int

	// Reason is set for Unrepairable actions.
	Reason string
}

// Plan decides the repair for a balance report. Policy, in priority
// order: append synthetic closers when only opens are unmatched; strip
// excess closers when only closes are unmatched and they all sit in the
// file's tail; otherwise refuse.
func Plan(report *balance.Report) Action {
	opens := report.UnmatchedOpens()
	closes := report.UnmatchedCloses()

	switch {
	case len(opens) == 0 && len(closes) == 0:
		return Action{Type: NoOp}

	case len(opens) > 0 && len(closes) == 0:
		// Close innermost blocks first: unmatched opens arrive in
		// textual order, so walk them backward.
		closers := make([]byte, 0, len(opens))
		for i := len(opens) - 1; i >= 0; i-- {
			closers = append(closers, opens[i].Event.Kind.Close)
		}
		return Action{Type: AppendClosers, Closers: closers}

	case len(closes) > 0 && len(opens) == 0:
		return planStrip(report, closes)

	default:
		// Interleaved mismatch: a stray closer and a stray opener in
		// the same unit. Any automatic fix risks relocating logic, so
		// this always escalates.
		return Action{Type: Unrepairable, Reason: ReasonInterleaved}
	}
}

// planStrip selects the excess closers to delete. Only closers past the
// last matched delimiter are safely attributable to a truncation-style
// defect; a stray closer buried among matched blocks may really be a
// missing opener, so that case escalates instead of guessing.
func planStrip(report *balance.Report, closes []balance.Entry) Action {
	lastMatched := -1
	for _, e := range report.Entries {
		if e.Outcome == balance.Matched && e.Event.Offset > lastMatched {
			lastMatched = e.Event.Offset
		}
	}

	positions := make([]int, 0, len(closes))
	for _, e := range closes {
		if e.Event.Offset < lastMatched {
			return Action{Type: Unrepairable, Reason: ReasonExcessClose}
		}
		positions = append(positions, e.Event.Offset)
	}
	sort.Ints(positions)
	return Action{Type: StripClosers, Positions: positions}
}

// Execute applies a planned action to text and returns the repaired
// content. NoOp returns the input unchanged; Unrepairable returns
// ErrAmbiguous wrapped with the action's reason.
func Execute(text []byte, action Action) ([]byte, error) {
	switch action.Type {
	case NoOp:
		return text, nil

	case AppendClosers:
		out := make([]byte, 0, len(text)+2*len(action.Closers)+1)
		out = append(out, text...)
		if len(out) > 0 && out[len(out)-1] != '\n' {
			out = append(out, '\n')
		}
		for _, c := range action.Closers {
			out = append(out, c, '\n')
		}
		return out, nil

	case StripClosers:
		out := make([]byte, 0, len(text))
		next := 0
		for i, b := range text {
			if next < len(action.Positions) && i == action.Positions[next] {
				next++
				continue
			}
			out = append(out, b)
		}
		if next != len(action.Positions) {
			return nil, errors.Errorf("strip positions out of range: %v", action.Positions)
		}
		return out, nil

	case Unrepairable:
		return nil, errors.Errorf("%w: %s", ErrAmbiguous, action.Reason)

	default:
		return nil, errors.Errorf("unknown repair action %d", action.Type)
	}
}
