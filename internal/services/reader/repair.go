package reader

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_\-]*)(\s*:)`)
)

// Repair applies a fixed set of mechanical corrections to malformed JSON
// and reports each one. The set is deliberately closed: trailing commas,
// unquoted keys, single-quoted strings, UTF-8 BOM, raw control characters,
// and truncation to the last balanced brace or bracket.
func Repair(data []byte) ([]byte, []string) {
	var repairs []string

	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		data = data[3:]
		repairs = append(repairs, "stripped UTF-8 BOM")
	}

	if fixed, n := escapeControlChars(data); n > 0 {
		data = fixed
		repairs = append(repairs, fmt.Sprintf("escaped %d raw control character(s) inside strings", n))
	}

	if fixed, n := replaceSingleQuotes(data); n > 0 {
		data = fixed
		repairs = append(repairs, fmt.Sprintf("converted %d single-quoted string(s)", n))
	}

	if unquotedKeyRe.Match(data) {
		count := 0
		data = unquotedKeyRe.ReplaceAllFunc(data, func(m []byte) []byte {
			sub := unquotedKeyRe.FindSubmatch(m)
			key := string(sub[2])
			// Keywords are values, not keys needing quotes
			if key == "true" || key == "false" || key == "null" {
				return m
			}
			count++
			return []byte(string(sub[1]) + `"` + key + `"` + string(sub[3]))
		})
		if count > 0 {
			repairs = append(repairs, fmt.Sprintf("quoted %d bare object key(s)", count))
		}
	}

	if trailingCommaRe.Match(data) {
		count := len(trailingCommaRe.FindAll(data, -1))
		data = trailingCommaRe.ReplaceAll(data, []byte("$1"))
		repairs = append(repairs, fmt.Sprintf("removed %d trailing comma(s)", count))
	}

	if truncated, ok := truncateToBalanced(data); ok {
		data = truncated
		repairs = append(repairs, "truncated to last balanced brace/bracket")
	}

	return data, repairs
}

// escapeControlChars replaces raw control characters inside string literals
// with their \uXXXX escapes. Characters outside strings are left alone.
func escapeControlChars(data []byte) ([]byte, int) {
	var out bytes.Buffer
	inString := false
	escaped := false
	count := 0

	for _, b := range data {
		if inString {
			if escaped {
				out.WriteByte(b)
				escaped = false
				continue
			}
			switch {
			case b == '\\':
				out.WriteByte(b)
				escaped = true
			case b == '"':
				out.WriteByte(b)
				inString = false
			case b < 0x20:
				switch b {
				case '\n':
					out.WriteString(`\n`)
				case '\r':
					out.WriteString(`\r`)
				case '\t':
					out.WriteString(`\t`)
				default:
					out.WriteString(fmt.Sprintf(`\u%04x`, b))
				}
				count++
			default:
				out.WriteByte(b)
			}
			continue
		}
		if b == '"' {
			inString = true
		}
		out.WriteByte(b)
	}

	if count == 0 {
		return data, 0
	}
	return out.Bytes(), count
}

// replaceSingleQuotes converts single-quoted strings to double-quoted ones,
// escaping any embedded double quotes. Apostrophes inside double-quoted
// strings are untouched.
func replaceSingleQuotes(data []byte) ([]byte, int) {
	var out bytes.Buffer
	inDouble := false
	inSingle := false
	escaped := false
	count := 0

	for _, b := range data {
		if escaped {
			out.WriteByte(b)
			escaped = false
			continue
		}
		switch {
		case b == '\\' && (inDouble || inSingle):
			out.WriteByte(b)
			escaped = true
		case b == '"' && !inSingle:
			inDouble = !inDouble
			out.WriteByte(b)
		case b == '"' && inSingle:
			out.WriteString(`\"`)
		case b == '\'' && !inDouble:
			out.WriteByte('"')
			if inSingle {
				count++
			}
			inSingle = !inSingle
		default:
			out.WriteByte(b)
		}
	}

	if count == 0 && !inSingle {
		return data, count
	}
	return out.Bytes(), count
}

// truncateToBalanced trims trailing garbage after the last position where
// every brace and bracket is balanced. Returns ok=false when the input is
// already balanced or no balanced prefix exists.
func truncateToBalanced(data []byte) ([]byte, bool) {
	depth := 0
	inString := false
	escaped := false
	lastBalanced := -1
	sawOpen := false

	for i, b := range data {
		if inString {
			if escaped {
				escaped = false
			} else if b == '\\' {
				escaped = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			sawOpen = true
		case '}', ']':
			depth--
			if depth == 0 && sawOpen {
				lastBalanced = i
			}
		}
	}

	if lastBalanced < 0 || lastBalanced == len(data)-1 {
		// Already ends balanced, or nothing to salvage
		if lastBalanced == len(data)-1 {
			return data, false
		}
		// Check for trailing whitespace after the balance point
		if lastBalanced >= 0 && len(strings.TrimRightFunc(string(data[lastBalanced+1:]), unicode.IsSpace)) == 0 {
			return data, false
		}
		return data, false
	}

	trailing := strings.TrimRightFunc(string(data[lastBalanced+1:]), unicode.IsSpace)
	if trailing == "" {
		return data, false
	}
	return data[:lastBalanced+1], true
}
