package upstream

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// DefaultMaxLineBytes bounds a single upstream line.
const DefaultMaxLineBytes = 1 << 20

const doneMarker = "[DONE]"

// UnitKind discriminates the units produced by a Parser.
type UnitKind int

const (
	// UnitDelta carries one choice's content fragment.
	UnitDelta UnitKind = iota + 1
	// UnitDone is the upstream's terminal marker.
	UnitDone
	// UnitMalformed is a line that could not be decoded.
	UnitMalformed
)

// String returns the kind name used in logs.
func (k UnitKind) String() string {
	switch k {
	case UnitDelta:
		return "delta"
	case UnitDone:
		return "done"
	case UnitMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Unit is one decoded element of the upstream stream.
type Unit struct {
	Kind UnitKind

	// Index is the choice position within the decoded line (deltas only).
	Index int

	// Role is the delta role, when the upstream sent one.
	Role string

	// Text is the delta content. Empty content still yields a unit.
	Text string

	// Line and Err describe a malformed line.
	Line string
	Err  error
}

// chunk is the upstream line shape.
type chunk struct {
	Choices []struct {
		Delta struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// ParserOptions tunes a Parser.
type ParserOptions struct {
	// MaxLineBytes is the longest accepted line. Default: 1 MiB
	MaxLineBytes int
}

// Parser turns an upstream byte stream into Units. It is single use and
// not safe for concurrent calls.
type Parser struct {
	scanner *bufio.Scanner
	pending []Unit
	done    bool
}

// NewParser returns a parser reading lines from r.
func NewParser(r io.Reader, opts ...ParserOptions) *Parser {
	maxLine := DefaultMaxLineBytes
	if len(opts) > 0 && opts[0].MaxLineBytes > 0 {
		maxLine = opts[0].MaxLineBytes
	}

	// Scanner uses the larger of cap(buf) and max as its limit.
	initial := min(64*1024, maxLine)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initial), maxLine)

	return &Parser{scanner: scanner}
}

// Next returns the next unit. It returns io.EOF after the terminal unit or
// when the reader ends without one. A read failure is returned as a
// *StreamError and ends the sequence.
func (p *Parser) Next() (Unit, error) {
	if len(p.pending) > 0 {
		u := p.pending[0]
		p.pending = p.pending[1:]
		return u, nil
	}
	if p.done {
		return Unit{}, io.EOF
	}

	for p.scanner.Scan() {
		units := p.parseLine(p.scanner.Text())
		if len(units) == 0 {
			continue
		}
		p.pending = units[1:]
		return units[0], nil
	}

	p.done = true
	if err := p.scanner.Err(); err != nil {
		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			return Unit{}, streamErr
		}
		return Unit{}, &StreamError{Message: "failed to read stream", Cause: err}
	}
	return Unit{}, io.EOF
}

func (p *Parser) parseLine(line string) []Unit {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, ":") {
		return nil
	}

	data := trimmed
	if rest, ok := strings.CutPrefix(trimmed, "data:"); ok {
		data = strings.TrimSpace(rest)
		if data == "" {
			return nil
		}
	} else if isFieldLine(trimmed) {
		return nil
	}

	if data == doneMarker {
		p.done = true
		return []Unit{{Kind: UnitDone}}
	}

	var c chunk
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return []Unit{{Kind: UnitMalformed, Line: line, Err: err}}
	}

	units := make([]Unit, 0, len(c.Choices))
	for i, choice := range c.Choices {
		u := Unit{Kind: UnitDelta, Index: i, Role: choice.Delta.Role}
		if choice.Delta.Content != nil {
			u.Text = *choice.Delta.Content
		}
		units = append(units, u)
	}
	return units
}

// isFieldLine reports whether line is a non-data SSE field.
func isFieldLine(line string) bool {
	for _, field := range []string{"event:", "id:", "retry:"} {
		if strings.HasPrefix(line, field) {
			return true
		}
	}
	return false
}
