// Package text converts between the byte offsets used by the engine and the
// line/character coordinates used by the editor protocol.
package text

import (
	"unicode/utf8"

	"msls/internal/core/errors"
)

// Position is a zero-based line/character pair. Character counts UTF-16 code
// units within the line, the protocol's convention; the engine's offset space
// stays bytes, and the Mapper converts between the two.
type Position struct {
	Line      int
	Character int
}

// Mapper indexes one immutable text snapshot. A line ends at '\n'; a '\r'
// directly before it belongs to the terminator. A lone '\r' does not end a
// line.
type Mapper struct {
	text       string
	lineStarts []int
}

func NewMapper(text string) *Mapper {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &Mapper{text: text, lineStarts: starts}
}

func (m *Mapper) Len() int { return len(m.text) }

// LineCount returns the number of lines, counting a trailing terminator as
// starting a final empty line.
func (m *Mapper) LineCount() int { return len(m.lineStarts) }

// Offset converts a position to a byte offset. The offset one past the end of
// a line (or of the text) is valid; anything beyond fails rather than clamp,
// because a clamped position silently corrupts diagnostic ranges.
func (m *Mapper) Offset(pos Position) (int, error) {
	if pos.Line < 0 || pos.Character < 0 || pos.Line >= len(m.lineStarts) {
		return 0, errors.Newf(errors.CodePositionOutOfBounds,
			"line %d out of range (0..%d)", pos.Line, len(m.lineStarts)-1)
	}
	max := m.lineMax(pos.Line)
	offset := m.lineStarts[pos.Line]
	remaining := pos.Character
	for remaining > 0 {
		if offset >= max {
			return 0, errors.Newf(errors.CodePositionOutOfBounds,
				"character %d exceeds line %d length", pos.Character, pos.Line)
		}
		if m.text[offset] < utf8.RuneSelf {
			offset++
			remaining--
			continue
		}
		r, size := utf8.DecodeRuneInString(m.text[offset:])
		units := utf16Len(r)
		if remaining < units {
			return 0, errors.Newf(errors.CodePositionOutOfBounds,
				"character %d on line %d splits a surrogate pair", pos.Character, pos.Line)
		}
		offset += size
		remaining -= units
	}
	return offset, nil
}

// Position converts a byte offset to a position. Offsets inside a line
// terminator map to the end of the content they follow. len(text) is a valid
// offset (end of the last line).
func (m *Mapper) Position(offset int) (Position, error) {
	if offset < 0 || offset > len(m.text) {
		return Position{}, errors.Newf(errors.CodePositionOutOfBounds,
			"offset %d out of range (0..%d)", offset, len(m.text))
	}
	line := m.lineFor(offset)
	char := 0
	for i := m.lineStarts[line]; i < offset; {
		if m.text[i] < utf8.RuneSelf {
			i++
			char++
			continue
		}
		r, size := utf8.DecodeRuneInString(m.text[i:])
		i += size
		char += utf16Len(r)
	}
	return Position{Line: line, Character: char}, nil
}

// utf16Len is the number of UTF-16 code units encoding r: two for the
// supplementary planes, one for everything else.
func utf16Len(r rune) int {
	if r > 0xFFFF {
		return 2
	}
	return 1
}

// lineMax returns the largest offset addressable on the line: the '\n' of a
// terminated line, or the end of the text for the final line. Every offset in
// [0, len(text)] therefore round-trips through Position and back.
func (m *Mapper) lineMax(line int) int {
	if line+1 < len(m.lineStarts) {
		return m.lineStarts[line+1] - 1
	}
	return len(m.text)
}

func (m *Mapper) lineFor(offset int) int {
	lo, hi := 0, len(m.lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if m.lineStarts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
