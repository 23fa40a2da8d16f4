package pdf

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// textCharFloor is the page text length below which a page is considered
// text-poor for the auto-raster heuristic.
const textCharFloor = 200

// rasterScore scores a page for auto-rasterisation. Pages with enough
// extractable text score zero; text-poor pages score by the share of path
// operators relative to their residual text, so a vector-heavy drawing on a
// near-empty page approaches 1.0.
func rasterScore(content *PageContent) float64 {
	textChars := 0
	for _, run := range content.TextRuns {
		textChars += len(run.Text)
	}
	if textChars >= textCharFloor {
		return 0
	}
	ops := float64(content.PathOpCount)
	if ops == 0 {
		return 0
	}
	return ops / (ops + float64(textChars)/10 + 1)
}

// rasterisePage renders a page's line work and content extents onto a white
// canvas at the given DPI and returns it PNG-encoded. Text runs render as
// grey strips and image placements as outlined boxes, which preserves the
// page's visual layout for vision captioning without a full renderer.
func rasterisePage(content *PageContent, pageW, pageH float64, dpi int) ([]byte, int, int, error) {
	if dpi <= 0 {
		dpi = 150
	}
	scale := float64(dpi) / 72.0
	width := int(pageW*scale + 0.5)
	height := int(pageH*scale + 0.5)
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	ink := color.RGBA{A: 255}
	strip := color.RGBA{R: 96, G: 96, B: 96, A: 255}

	// Page space has its origin bottom-left; image space top-left
	toPx := func(x, y float64) (int, int) {
		return int(x*scale + 0.5), height - int(y*scale+0.5)
	}

	for _, seg := range content.PathSegs {
		x1, y1 := toPx(seg.X1, seg.Y1)
		x2, y2 := toPx(seg.X2, seg.Y2)
		drawLine(canvas, x1, y1, x2, y2, ink)
	}

	for _, run := range content.TextRuns {
		x1, y1 := toPx(run.X, run.Y)
		x2, _ := toPx(run.X+run.Width, run.Y)
		h := int(run.FontSize*scale*0.7 + 0.5)
		if h < 1 {
			h = 1
		}
		for dy := 0; dy < h; dy++ {
			drawLine(canvas, x1, y1-dy, x2, y1-dy, strip)
		}
	}

	for _, pl := range content.Placements {
		x1, y1 := toPx(pl.X, pl.Y)
		x2, y2 := toPx(pl.X+pl.W, pl.Y+pl.H)
		drawLine(canvas, x1, y1, x2, y1, ink)
		drawLine(canvas, x2, y1, x2, y2, ink)
		drawLine(canvas, x2, y2, x1, y2, ink)
		drawLine(canvas, x1, y2, x1, y1, ink)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), width, height, nil
}

// drawLine plots a straight line with Bresenham's algorithm, clipped to the
// image bounds.
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	bounds := img.Bounds()
	dx := absI(x2 - x1)
	dy := -absI(y2 - y1)
	sx := 1
	if x1 > x2 {
		sx = -1
	}
	sy := 1
	if y1 > y2 {
		sy = -1
	}
	errAcc := dx + dy

	for {
		if image.Pt(x1, y1).In(bounds) {
			img.SetRGBA(x1, y1, c)
		}
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * errAcc
		if e2 >= dy {
			errAcc += dy
			x1 += sx
		}
		if e2 <= dx {
			errAcc += dx
			y1 += sy
		}
	}
}

func absI(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
