package scan

import (
	"fmt"
)

// Class is the lexical classification of a span of source text.
type Class int

const (
	Code Class = iota
	StringLiteral
	CharLiteral
	LineComment
	BlockComment
)

// String returns the class name for diagnostics.
func (c Class) String() string {
	switch c {
	case Code:
		return "code"
	case StringLiteral:
		return "string"
	case CharLiteral:
		return "char"
	case LineComment:
		return "line_comment"
	case BlockComment:
		return "block_comment"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Span is a contiguous half-open byte range [Start, End) of the scanned
// text carrying one classification. Spans are produced in order,
// non-overlapping, and cover the whole input.
type Span struct {
	Class Class
	Start int // byte offset, inclusive
	End   int // byte offset, exclusive
	Line  int // 1-based line of Start
	Col   int // 1-based column of Start
}

// Dialect configures the literal and comment forms the scanner
// recognizes. The zero value recognizes nothing but code; use
// DefaultDialect for C-family source.
type Dialect struct {
	LineComment    string // e.g. "//"
	BlockOpen      string // e.g. "/*"
	BlockClose     string // e.g. "*/"
	NestedComments bool   // block comments may nest (Rust-style)
	RawStrings     bool   // r"..." / r#"..."# verbatim forms
	CharLiterals   bool   // '...' single-quoted literals
}

// DefaultDialect matches Rust/C-family source: // line comments,
// nestable /* */ block comments, double-quoted strings with backslash
// escapes, single-quoted char literals, and r#"..."# raw strings.
func DefaultDialect() Dialect {
	return Dialect{
		LineComment:    "//",
		BlockOpen:      "/*",
		BlockClose:     "*/",
		NestedComments: true,
		RawStrings:     true,
		CharLiterals:   true,
	}
}

// Scanner classifies source text into spans. A Scanner holds only its
// dialect; Scan keeps no state between calls, so re-scanning the same
// text always yields identical spans.
type Scanner struct {
	dialect Dialect
}

// NewScanner creates a scanner for the given dialect.
func NewScanner(dialect Dialect) *Scanner {
	return &Scanner{dialect: dialect}
}

// Scan classifies text into an ordered, covering sequence of spans. It
// is total: malformed input still scans, and a literal or comment left
// unterminated at EOF is closed implicitly and reported as a span.
func (s *Scanner) Scan(text []byte) []Span {
	var spans []Span

	line, col := 1, 1
	i := 0
	n := len(text)

	// emit closes the span [start, i) with the class and the line/col
	// captured at start. Zero-length spans are dropped.
	emit := func(class Class, start, startLine, startCol int) {
		if i > start {
			spans = append(spans, Span{
				Class: class,
				Start: start,
				End:   i,
				Line:  startLine,
				Col:   startCol,
			})
		}
	}

	// advance consumes k bytes, tracking line/col.
	advance := func(k int) {
		for j := 0; j < k; j++ {
			if text[i+j] == '\n' {
				line++
				col = 1
			} else {
				col++
			}
		}
		i += k
	}

	match := func(marker string) bool {
		return marker != "" && i+len(marker) <= n && string(text[i:i+len(marker)]) == marker
	}

	codeStart, codeLine, codeCol := 0, 1, 1

	for i < n {
		switch {
		case match(s.dialect.LineComment):
			emit(Code, codeStart, codeLine, codeCol)
			startLine, startCol, start := line, col, i
			for i < n && text[i] != '\n' {
				advance(1)
			}
			emit(LineComment, start, startLine, startCol)
			codeStart, codeLine, codeCol = i, line, col

		case match(s.dialect.BlockOpen):
			emit(Code, codeStart, codeLine, codeCol)
			startLine, startCol, start := line, col, i
			advance(len(s.dialect.BlockOpen))
			depth := 1
			for i < n && depth > 0 {
				if s.dialect.NestedComments && match(s.dialect.BlockOpen) {
					depth++
					advance(len(s.dialect.BlockOpen))
				} else if match(s.dialect.BlockClose) {
					depth--
					advance(len(s.dialect.BlockClose))
				} else {
					advance(1)
				}
			}
			// depth > 0 here means the comment ran to EOF; it is
			// still a span, not an error.
			emit(BlockComment, start, startLine, startCol)
			codeStart, codeLine, codeCol = i, line, col

		case s.dialect.RawStrings && s.isRawStringStart(text, i):
			emit(Code, codeStart, codeLine, codeCol)
			startLine, startCol, start := line, col, i
			advance(1) // 'r'
			hashes := 0
			for i < n && text[i] == '#' {
				hashes++
				advance(1)
			}
			if i < n { // opening quote
				advance(1)
			}
			terminator := `"` + repeatHash(hashes)
			for i < n && !match(terminator) {
				advance(1)
			}
			if i < n {
				advance(len(terminator))
			}
			emit(StringLiteral, start, startLine, startCol)
			codeStart, codeLine, codeCol = i, line, col

		case text[i] == '"':
			emit(Code, codeStart, codeLine, codeCol)
			startLine, startCol, start := line, col, i
			advance(1)
			s.consumeQuoted(text, &i, &line, &col, '"')
			emit(StringLiteral, start, startLine, startCol)
			codeStart, codeLine, codeCol = i, line, col

		case s.dialect.CharLiterals && text[i] == '\'' && s.isCharLiteralStart(text, i):
			emit(Code, codeStart, codeLine, codeCol)
			startLine, startCol, start := line, col, i
			advance(1)
			s.consumeQuoted(text, &i, &line, &col, '\'')
			emit(CharLiteral, start, startLine, startCol)
			codeStart, codeLine, codeCol = i, line, col

		default:
			advance(1)
		}
	}
	emit(Code, codeStart, codeLine, codeCol)

	return spans
}

// consumeQuoted advances past a quoted literal body up to and including
// the closing quote, honoring backslash escapes. An unterminated
// literal consumes to EOF.
func (s *Scanner) consumeQuoted(text []byte, i *int, line *int, col *int, quote byte) {
	n := len(text)
	for *i < n {
		c := text[*i]
		if c == '\\' && *i+1 < n {
			advanceOne(text, i, line, col)
			advanceOne(text, i, line, col)
			continue
		}
		advanceOne(text, i, line, col)
		if c == quote {
			return
		}
	}
}

func advanceOne(text []byte, i *int, line *int, col *int) {
	if text[*i] == '\n' {
		*line++
		*col = 1
	} else {
		*col++
	}
	*i++
}

// isRawStringStart reports whether text[i:] begins a raw string
// (r"..." or r#"..."#). The preceding byte must not be an identifier
// character, so an identifier ending in r does not start one.
func (s *Scanner) isRawStringStart(text []byte, i int) bool {
	if text[i] != 'r' {
		return false
	}
	if i > 0 && isIdentByte(text[i-1]) {
		return false
	}
	j := i + 1
	for j < len(text) && text[j] == '#' {
		j++
	}
	return j < len(text) && text[j] == '"'
}

// isCharLiteralStart distinguishes a char literal from a lifetime
// marker ('a in Rust source): a char literal closes with a quote within
// a couple of bytes, a lifetime does not.
func (s *Scanner) isCharLiteralStart(text []byte, i int) bool {
	n := len(text)
	if i+1 >= n {
		return false
	}
	if text[i+1] == '\\' {
		return true
	}
	return i+2 < n && text[i+2] == '\''
}

func isIdentByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

func repeatHash(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = '#'
	}
	return string(out)
}
