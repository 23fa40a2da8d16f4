package pdf

import (
	"strconv"
	"strings"
)

// PageContent is the interpreted result of one page's content stream
type PageContent struct {
	TextRuns    []TextRun
	Placements  []ImagePlacement
	PathSegs    []PathSegment
	PathOpCount int
}

// TextRun is a positioned run of page text
type TextRun struct {
	X, Y     float64
	Width    float64
	FontSize float64
	Text     string
}

// ImagePlacement records where an XObject was painted
type ImagePlacement struct {
	Name       string
	X, Y, W, H float64
}

// PathSegment is one straight line in device space
type PathSegment struct {
	X1, Y1, X2, Y2 float64
}

// matrix is a PDF transformation matrix [a b c d e f]
type matrix struct {
	a, b, c, d, e, f float64
}

func identityMatrix() matrix {
	return matrix{a: 1, d: 1}
}

func (m matrix) mul(n matrix) matrix {
	return matrix{
		a: m.a*n.a + m.b*n.c,
		b: m.a*n.b + m.b*n.d,
		c: m.c*n.a + m.d*n.c,
		d: m.c*n.b + m.d*n.d,
		e: m.e*n.a + m.f*n.c + n.e,
		f: m.e*n.b + m.f*n.d + n.f,
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return m.a*x + m.c*y + m.e, m.b*x + m.d*y + m.f
}

// interpretContent runs a simplified interpreter over a page content
// stream. It tracks enough state to recover text runs with approximate
// positions, image XObject placements with their transformed extents, and
// straight path segments for the raster heuristic. Curves are flattened to
// their chords; font metrics are approximated from the font size.
func interpretContent(stream []byte) *PageContent {
	content := &PageContent{}
	tokens := tokenize(stream)

	ctm := identityMatrix()
	var gsStack []matrix

	var textMatrix, lineMatrix matrix
	fontSize := 12.0
	leading := 14.0
	inText := false

	var operands []token
	var curX, curY float64 // current path point
	var startX, startY float64

	popNums := func(n int) []float64 {
		nums := make([]float64, n)
		if len(operands) < n {
			return nums
		}
		for i := 0; i < n; i++ {
			nums[i] = operands[len(operands)-n+i].num
		}
		return nums
	}

	emitText := func(text string) {
		if text == "" {
			return
		}
		x, y := textMatrix.apply(0, 0)
		dx, dy := ctm.apply(x, y)
		scale := textMatrix.a
		if scale == 0 {
			scale = 1
		}
		// Glyph widths are unavailable without font descriptors; half an em
		// per character is close enough for ordering and proximity
		width := float64(len(text)) * fontSize * scale * 0.5
		content.TextRuns = append(content.TextRuns, TextRun{
			X:        dx,
			Y:        dy,
			Width:    width,
			FontSize: fontSize * scale,
			Text:     text,
		})
		// Advance the text matrix past the run
		textMatrix = matrix{a: 1, d: 1, e: width / scale}.mul(textMatrix)
	}

	addSegment := func(x1, y1, x2, y2 float64) {
		dx1, dy1 := ctm.apply(x1, y1)
		dx2, dy2 := ctm.apply(x2, y2)
		content.PathSegs = append(content.PathSegs, PathSegment{X1: dx1, Y1: dy1, X2: dx2, Y2: dy2})
	}

	for _, tok := range tokens {
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.text {
		case "q":
			gsStack = append(gsStack, ctm)
		case "Q":
			if len(gsStack) > 0 {
				ctm = gsStack[len(gsStack)-1]
				gsStack = gsStack[:len(gsStack)-1]
			}
		case "cm":
			n := popNums(6)
			ctm = matrix{a: n[0], b: n[1], c: n[2], d: n[3], e: n[4], f: n[5]}.mul(ctm)

		case "BT":
			inText = true
			textMatrix = identityMatrix()
			lineMatrix = identityMatrix()
		case "ET":
			inText = false
		case "Tf":
			n := popNums(1)
			if n[0] > 0 {
				fontSize = n[0]
			}
		case "TL":
			n := popNums(1)
			leading = n[0]
		case "Tm":
			n := popNums(6)
			lineMatrix = matrix{a: n[0], b: n[1], c: n[2], d: n[3], e: n[4], f: n[5]}
			textMatrix = lineMatrix
		case "Td":
			n := popNums(2)
			lineMatrix = matrix{a: 1, d: 1, e: n[0], f: n[1]}.mul(lineMatrix)
			textMatrix = lineMatrix
		case "TD":
			n := popNums(2)
			leading = -n[1]
			lineMatrix = matrix{a: 1, d: 1, e: n[0], f: n[1]}.mul(lineMatrix)
			textMatrix = lineMatrix
		case "T*":
			lineMatrix = matrix{a: 1, d: 1, f: -leading}.mul(lineMatrix)
			textMatrix = lineMatrix
		case "Tj", "'":
			if inText && len(operands) > 0 {
				if tok.text == "'" {
					lineMatrix = matrix{a: 1, d: 1, f: -leading}.mul(lineMatrix)
					textMatrix = lineMatrix
				}
				emitText(operands[len(operands)-1].str)
			}
		case "\"":
			if inText && len(operands) > 0 {
				lineMatrix = matrix{a: 1, d: 1, f: -leading}.mul(lineMatrix)
				textMatrix = lineMatrix
				emitText(operands[len(operands)-1].str)
			}
		case "TJ":
			if inText && len(operands) > 0 {
				emitText(operands[len(operands)-1].str)
			}

		case "Do":
			if len(operands) > 0 && operands[len(operands)-1].kind == tokName {
				// The unit square transformed by the CTM is the image extent
				x0, y0 := ctm.apply(0, 0)
				x1, y1 := ctm.apply(1, 1)
				content.Placements = append(content.Placements, ImagePlacement{
					Name: operands[len(operands)-1].text,
					X:    minF(x0, x1),
					Y:    minF(y0, y1),
					W:    absF(x1 - x0),
					H:    absF(y1 - y0),
				})
			}

		case "m":
			n := popNums(2)
			curX, curY = n[0], n[1]
			startX, startY = curX, curY
			content.PathOpCount++
		case "l":
			n := popNums(2)
			addSegment(curX, curY, n[0], n[1])
			curX, curY = n[0], n[1]
			content.PathOpCount++
		case "c":
			n := popNums(6)
			addSegment(curX, curY, n[4], n[5])
			curX, curY = n[4], n[5]
			content.PathOpCount++
		case "v", "y":
			n := popNums(4)
			addSegment(curX, curY, n[2], n[3])
			curX, curY = n[2], n[3]
			content.PathOpCount++
		case "h":
			addSegment(curX, curY, startX, startY)
			curX, curY = startX, startY
			content.PathOpCount++
		case "re":
			n := popNums(4)
			x, y, w, h := n[0], n[1], n[2], n[3]
			addSegment(x, y, x+w, y)
			addSegment(x+w, y, x+w, y+h)
			addSegment(x+w, y+h, x, y+h)
			addSegment(x, y+h, x, y)
			content.PathOpCount++
		}

		operands = operands[:0]
	}

	return content
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokName
	tokArray
	tokOperator
	tokOther
)

type token struct {
	kind tokenKind
	text string
	num  float64
	str  string // decoded string content for tokString/tokArray
}

// tokenize splits a content stream into operands and operators. Strings
// and arrays decode to their text payload; dictionaries and inline images
// are skipped.
func tokenize(data []byte) []token {
	var tokens []token
	i := 0
	n := len(data)

	for i < n {
		b := data[i]
		switch {
		case b == ' ' || b == '\t' || b == '\r' || b == '\n' || b == '\f' || b == 0:
			i++
		case b == '%':
			for i < n && data[i] != '\n' {
				i++
			}
		case b == '(':
			str, next := decodeLiteralString(data, i)
			tokens = append(tokens, token{kind: tokString, str: str})
			i = next
		case b == '<' && i+1 < n && data[i+1] == '<':
			// Dictionary: skip to matching >>
			depth := 0
			for i < n-1 {
				if data[i] == '<' && data[i+1] == '<' {
					depth++
					i += 2
				} else if data[i] == '>' && data[i+1] == '>' {
					depth--
					i += 2
					if depth == 0 {
						break
					}
				} else {
					i++
				}
			}
		case b == '<':
			str, next := decodeHexString(data, i)
			tokens = append(tokens, token{kind: tokString, str: str})
			i = next
		case b == '[':
			str, next := decodeArrayStrings(data, i)
			tokens = append(tokens, token{kind: tokArray, str: str})
			i = next
		case b == ']':
			i++
		case b == '/':
			j := i + 1
			for j < n && !isDelimiter(data[j]) {
				j++
			}
			tokens = append(tokens, token{kind: tokName, text: string(data[i+1 : j])})
			i = j
		case b == '+' || b == '-' || b == '.' || (b >= '0' && b <= '9'):
			j := i + 1
			for j < n && (data[j] == '.' || data[j] == '-' || (data[j] >= '0' && data[j] <= '9')) {
				j++
			}
			num, _ := strconv.ParseFloat(string(data[i:j]), 64)
			tokens = append(tokens, token{kind: tokNumber, num: num})
			i = j
		default:
			j := i + 1
			for j < n && !isDelimiter(data[j]) {
				j++
			}
			op := string(data[i:j])
			if op == "BI" {
				// Inline image: skip to EI
				if idx := strings.Index(string(data[j:]), "EI"); idx >= 0 {
					j += idx + 2
				} else {
					j = n
				}
			} else {
				tokens = append(tokens, token{kind: tokOperator, text: op})
			}
			i = j
		}
	}
	return tokens
}

func isDelimiter(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '\f', 0, '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// decodeLiteralString decodes a (...) string starting at open paren
func decodeLiteralString(data []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	i := start
	n := len(data)
	for i < n {
		b := data[i]
		switch b {
		case '(':
			depth++
			if depth > 1 {
				sb.WriteByte(b)
			}
			i++
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(b)
			i++
		case '\\':
			if i+1 >= n {
				return sb.String(), n
			}
			next := data[i+1]
			switch next {
			case 'n':
				sb.WriteByte('\n')
				i += 2
			case 'r':
				sb.WriteByte('\r')
				i += 2
			case 't':
				sb.WriteByte('\t')
				i += 2
			case 'b', 'f':
				i += 2
			case '(', ')', '\\':
				sb.WriteByte(next)
				i += 2
			case '\n':
				i += 2
			default:
				if next >= '0' && next <= '7' {
					// Octal escape, up to three digits
					val := 0
					j := i + 1
					for j < n && j < i+4 && data[j] >= '0' && data[j] <= '7' {
						val = val*8 + int(data[j]-'0')
						j++
					}
					sb.WriteByte(byte(val))
					i = j
				} else {
					sb.WriteByte(next)
					i += 2
				}
			}
		default:
			sb.WriteByte(b)
			i++
		}
	}
	return sb.String(), n
}

// decodeHexString decodes a <...> hex string starting at '<'
func decodeHexString(data []byte, start int) (string, int) {
	var sb strings.Builder
	var hexDigits []byte
	i := start + 1
	n := len(data)
	for i < n && data[i] != '>' {
		b := data[i]
		if (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') {
			hexDigits = append(hexDigits, b)
		}
		i++
	}
	if len(hexDigits)%2 == 1 {
		hexDigits = append(hexDigits, '0')
	}
	for j := 0; j+1 < len(hexDigits); j += 2 {
		hi := hexVal(hexDigits[j])
		lo := hexVal(hexDigits[j+1])
		sb.WriteByte(byte(hi<<4 | lo))
	}
	return sb.String(), i + 1
}

func hexVal(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10
	}
	return 0
}

// decodeArrayStrings concatenates the string members of a [...] array,
// as used by the TJ operator. Kerning numbers are ignored.
func decodeArrayStrings(data []byte, start int) (string, int) {
	var sb strings.Builder
	i := start + 1
	n := len(data)
	for i < n && data[i] != ']' {
		switch data[i] {
		case '(':
			str, next := decodeLiteralString(data, i)
			sb.WriteString(str)
			i = next
		case '<':
			str, next := decodeHexString(data, i)
			sb.WriteString(str)
			i = next
		default:
			i++
		}
	}
	return sb.String(), i + 1
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absF(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}
