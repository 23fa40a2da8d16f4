package pdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpretContentTextRun(t *testing.T) {
	stream := []byte(`BT /F1 12 Tf 100 700 Td (Hello) Tj ET`)

	content := interpretContent(stream)
	require.Len(t, content.TextRuns, 1)
	run := content.TextRuns[0]
	assert.Equal(t, "Hello", run.Text)
	assert.Equal(t, 100.0, run.X)
	assert.Equal(t, 700.0, run.Y)
	assert.Equal(t, 12.0, run.FontSize)
}

func TestInterpretContentTJArray(t *testing.T) {
	stream := []byte(`BT /F1 10 Tf 72 650 Td [(Hel)-20(lo) 5 ( world)] TJ ET`)

	content := interpretContent(stream)
	require.Len(t, content.TextRuns, 1)
	assert.Equal(t, "Hello world", content.TextRuns[0].Text)
}

func TestInterpretContentHexString(t *testing.T) {
	stream := []byte(`BT 50 600 Td <48656C6C6F> Tj ET`)

	content := interpretContent(stream)
	require.Len(t, content.TextRuns, 1)
	assert.Equal(t, "Hello", content.TextRuns[0].Text)
}

func TestInterpretContentEscapes(t *testing.T) {
	stream := []byte(`BT 10 10 Td (a\(b\)c \\ \101) Tj ET`)

	content := interpretContent(stream)
	require.Len(t, content.TextRuns, 1)
	assert.Equal(t, `a(b)c \ A`, content.TextRuns[0].Text)
}

func TestInterpretContentLineAdvance(t *testing.T) {
	stream := []byte(`BT /F1 12 Tf 14 TL 100 700 Td (first) Tj (second) ' ET`)

	content := interpretContent(stream)
	require.Len(t, content.TextRuns, 2)
	assert.Equal(t, "first", content.TextRuns[0].Text)
	assert.Equal(t, "second", content.TextRuns[1].Text)
	// The ' operator moves down one leading before showing text
	assert.Equal(t, content.TextRuns[0].Y-14, content.TextRuns[1].Y)
}

func TestInterpretContentImagePlacement(t *testing.T) {
	stream := []byte(`q 120 0 0 80 50 300 cm /Im1 Do Q`)

	content := interpretContent(stream)
	require.Len(t, content.Placements, 1)
	pl := content.Placements[0]
	assert.Equal(t, "Im1", pl.Name)
	assert.Equal(t, 50.0, pl.X)
	assert.Equal(t, 300.0, pl.Y)
	assert.Equal(t, 120.0, pl.W)
	assert.Equal(t, 80.0, pl.H)
}

func TestInterpretContentGraphicsStateRestore(t *testing.T) {
	// The second placement paints after Q restored the identity CTM
	stream := []byte(`q 100 0 0 100 0 0 cm /Im1 Do Q /Im2 Do`)

	content := interpretContent(stream)
	require.Len(t, content.Placements, 2)
	assert.Equal(t, 100.0, content.Placements[0].W)
	assert.Equal(t, 1.0, content.Placements[1].W)
}

func TestInterpretContentPathOps(t *testing.T) {
	stream := []byte(`100 100 m 200 200 l h 10 10 50 40 re`)

	content := interpretContent(stream)
	assert.Equal(t, 4, content.PathOpCount)
	// l and h contribute one segment each, re contributes four
	require.Len(t, content.PathSegs, 6)
	assert.Equal(t, PathSegment{X1: 100, Y1: 100, X2: 200, Y2: 200}, content.PathSegs[0])
}

func TestInterpretContentCurveFlattening(t *testing.T) {
	stream := []byte(`0 0 m 10 20 30 40 50 60 c`)

	content := interpretContent(stream)
	require.Len(t, content.PathSegs, 1)
	assert.Equal(t, PathSegment{X1: 0, Y1: 0, X2: 50, Y2: 60}, content.PathSegs[0])
}

func TestTokenizeSkipsDictionariesAndInlineImages(t *testing.T) {
	stream := []byte("<< /Type /Page /Kids [1 0 R] >> BI /W 2 /H 2 ID \x00\x01\x02\x03 EI (kept) Tj")

	tokens := tokenize(stream)
	var strs []string
	for _, tok := range tokens {
		if tok.kind == tokString {
			strs = append(strs, tok.str)
		}
	}
	assert.Equal(t, []string{"kept"}, strs)
}

func TestMatrixComposition(t *testing.T) {
	translate := matrix{a: 1, d: 1, e: 10, f: 20}
	scale := matrix{a: 2, d: 3}

	x, y := translate.mul(scale).apply(1, 1)
	assert.Equal(t, 22.0, x)
	assert.Equal(t, 63.0, y)
}
