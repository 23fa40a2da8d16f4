package pdf

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRasterScoreTextRichPage(t *testing.T) {
	content := &PageContent{
		TextRuns:    []TextRun{{Text: string(make([]byte, 250))}},
		PathOpCount: 500,
	}
	assert.Zero(t, rasterScore(content))
}

func TestRasterScoreNoPathOps(t *testing.T) {
	content := &PageContent{
		TextRuns: []TextRun{{Text: "short caption"}},
	}
	assert.Zero(t, rasterScore(content))
}

func TestRasterScoreVectorHeavyPage(t *testing.T) {
	content := &PageContent{PathOpCount: 300}
	score := rasterScore(content)
	assert.Greater(t, score, 0.9)
	assert.LessOrEqual(t, score, 1.0)
}

func TestRasterScoreMixedPage(t *testing.T) {
	content := &PageContent{
		TextRuns:    []TextRun{{Text: string(make([]byte, 100))}},
		PathOpCount: 50,
	}
	assert.InDelta(t, 50.0/61.0, rasterScore(content), 1e-9)
}

func TestRasterisePageDimensions(t *testing.T) {
	content := &PageContent{}

	data, width, height, err := rasterisePage(content, 200, 100, 72)
	require.NoError(t, err)
	assert.Equal(t, 200, width)
	assert.Equal(t, 100, height)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, width, img.Bounds().Dx())
	assert.Equal(t, height, img.Bounds().Dy())
}

func TestRasterisePageScalesWithDPI(t *testing.T) {
	content := &PageContent{}

	_, width, height, err := rasterisePage(content, 200, 100, 144)
	require.NoError(t, err)
	assert.Equal(t, 400, width)
	assert.Equal(t, 200, height)
}

func TestRasterisePagePaintsSegments(t *testing.T) {
	content := &PageContent{
		PathSegs: []PathSegment{{X1: 10, Y1: 50, X2: 190, Y2: 50}},
	}

	data, _, height, err := rasterisePage(content, 200, 100, 72)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	// Page origin is bottom-left, image origin top-left
	r, g, b, _ := img.At(100, height-50).RGBA()
	assert.Zero(t, r)
	assert.Zero(t, g)
	assert.Zero(t, b)

	// Background stays white
	r, g, b, _ = img.At(100, 10).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
}

func TestRasterisePageZeroDPIDefaults(t *testing.T) {
	_, width, height, err := rasterisePage(&PageContent{}, 100, 100, 0)
	require.NoError(t, err)
	// 150 DPI default gives a 150/72 scale
	assert.Equal(t, 208, width)
	assert.Equal(t, 208, height)
}
