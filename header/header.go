// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package header finds Posit copyright headers and brings their year range up
// to date.
//
// A header is a line containing
//
//	Copyright (C) <YYYY>[-<YYYY>] Posit Software, PBC.
//
// Only the first [MaxLines] lines of a document are searched, and only the
// first header found there is ever considered. Anything that does not match
// the pattern exactly is treated as no header at all.
package header

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// MaxLines is the number of leading lines searched for a header.
const MaxLines = 20

const (
	prefix = "Copyright (C) "
	suffix = " Posit Software, PBC."
)

var headerRx = regexp.MustCompile(`Copyright \(C\) (\d{4})(-(\d{4}))? Posit Software, PBC\.`)

var extensions = map[string]bool{
	".ts":  true,
	".tsx": true,
	".js":  true,
	".jsx": true,
	".css": true,
	".py":  true,
	".R":   true,
	".sh":  true,
}

// Supported reports whether files at path may carry a header. The check
// looks only at the final extension and is case-sensitive.
func Supported(path string) bool {
	return extensions[filepath.Ext(path)]
}

// Extensions returns the sorted list of extensions accepted by [Supported].
func Extensions() []string {
	exts := make([]string, 0, len(extensions))
	for ext := range extensions {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Match is a header found in a document.
type Match struct {
	Line   int // zero-based
	Start  int
	End    int
	HasEnd bool
}

// EffectiveEnd returns the last year covered by the header.
func (m Match) EffectiveEnd() int {
	if m.HasEnd {
		return m.End
	}
	return m.Start
}

// Years returns the year field as written in the header.
func (m Match) Years() string {
	if m.HasEnd {
		return fmt.Sprintf("%d-%d", m.Start, m.End)
	}
	return strconv.Itoa(m.Start)
}

// Stale reports whether the header does not yet cover year.
func (m Match) Stale(year int) bool { return m.EffectiveEnd() < year }

// Edit replaces the text of one line, not including its line terminator.
type Edit struct {
	Line int
	Text string
}

// lines splits text into at most MaxLines lines, keeping any trailing '\r'.
func lines(text string) []string {
	ls := strings.SplitN(text, "\n", MaxLines+1)
	if len(ls) > MaxLines {
		ls = ls[:MaxLines]
	}
	return ls
}

func parse(i int, line string) (Match, bool) {
	sm := headerRx.FindStringSubmatch(line)
	if sm == nil {
		return Match{}, false
	}
	// Four digits always fit, so Atoi can't fail here.
	m := Match{Line: i}
	m.Start, _ = strconv.Atoi(sm[1])
	if sm[3] != "" {
		m.End, _ = strconv.Atoi(sm[3])
		m.HasEnd = true
	}
	return m, true
}

// Find returns the first header within the first [MaxLines] lines of text.
func Find(text string) (Match, bool) {
	for i, line := range lines(text) {
		if m, ok := parse(i, line); ok {
			return m, true
		}
	}
	return Match{}, false
}

// Edits returns the edits needed to make the header in text cover year.
//
// The result is empty when there is no header, when the first header
// already covers year, or when rewriting would not change the line. It never
// holds more than one edit.
func Edits(text string, year int) []Edit {
	for i, line := range lines(text) {
		m, ok := parse(i, line)
		if !ok {
			continue
		}
		if !m.Stale(year) {
			return nil
		}

		years := strconv.Itoa(year)
		if m.Start != year {
			years = fmt.Sprintf("%d-%d", m.Start, year)
		}
		newLine := strings.Replace(line, prefix+m.Years()+suffix, prefix+years+suffix, 1)
		// Edits cover the line without its terminator.
		newLine = strings.TrimSuffix(newLine, "\r")

		if newLine == line {
			return nil
		}
		return []Edit{{Line: i, Text: newLine}}
	}
	return nil
}

// Apply returns text with edits applied. Line terminators are preserved, so
// a file with CRLF line endings keeps them. Edits pointing past the end of
// text are ignored.
func Apply(text string, edits []Edit) string {
	if len(edits) == 0 {
		return text
	}
	ls := strings.Split(text, "\n")
	for _, e := range edits {
		if e.Line < 0 || e.Line >= len(ls) {
			continue
		}
		if strings.HasSuffix(ls[e.Line], "\r") {
			ls[e.Line] = e.Text + "\r"
			continue
		}
		ls[e.Line] = e.Text
	}
	return strings.Join(ls, "\n")
}
