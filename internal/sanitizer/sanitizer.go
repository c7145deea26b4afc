// Package sanitizer trims leading/trailing whitespace from CSV-style input
// before it reaches the parser, the way a BlueCat export accumulates stray
// padding whenever it passes through a spreadsheet round-trip.
package sanitizer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Fix describes one whitespace correction the sanitizer made.
type Fix struct {
	Line   int
	Column int // 1-based cell index within the line
	Before string
	After  string
}

// Sanitizer trims whitespace from tabular input and reports what it fixed.
type Sanitizer interface {
	Sanitize(r io.Reader) (io.Reader, []Fix, error)
}

// DefaultSanitizer splits on a configurable delimiter (comma by default) and
// trims each cell independently. The split does not honour CSV quoting, so
// a delimiter inside a quoted cell splits that cell too.
type DefaultSanitizer struct {
	Delimiter rune
}

// NewDefaultSanitizer returns a Sanitizer using comma as the field delimiter.
func NewDefaultSanitizer() Sanitizer {
	return &DefaultSanitizer{Delimiter: ','}
}

// NewSanitizer returns a Sanitizer using the given field delimiter.
func NewSanitizer(delimiter rune) Sanitizer {
	return &DefaultSanitizer{Delimiter: delimiter}
}

// Sanitize reads r line by line, trims whitespace around each delimited
// cell, and returns a reader over the cleaned content plus a log of fixes.
// It does not attempt full CSV-quote-aware splitting; internal/tabular
// re-parses the cleaned output with encoding/csv for that.
func (s *DefaultSanitizer) Sanitize(r io.Reader) (io.Reader, []Fix, error) {
	var fixes []Fix
	var out bytes.Buffer

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		cells := strings.Split(line, string(s.Delimiter))
		for i, cell := range cells {
			trimmed := strings.TrimSpace(cell)
			if trimmed != cell {
				fixes = append(fixes, Fix{
					Line:   lineNum,
					Column: i + 1,
					Before: cell,
					After:  trimmed,
				})
				cells[i] = trimmed
			}
		}
		out.WriteString(strings.Join(cells, string(s.Delimiter)))
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("sanitizer: scan failed: %w", err)
	}

	return bytes.NewReader(out.Bytes()), fixes, nil
}
