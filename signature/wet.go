package signature

import (
	"bytes"
	"context"
	"image"
	"image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/docpipe/docscan/pdf"
	"github.com/docpipe/docscan/render"
)

// WetDetail is one handwriting-shaped ink blob, located in PDF user space.
type WetDetail struct {
	PageNo     int        `json:"page_no"`
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
	InkRatio   float64    `json:"ink_ratio"`
}

// Wet aggregates the wet-ink findings of one document. Detected is the
// number of findings, not a boolean.
type Wet struct {
	Detected int         `json:"wet_signatures_detected"`
	Details  []WetDetail `json:"details"`
}

// WetScanner looks for handwritten signatures by rasterizing pages and
// inspecting the signature band at the bottom of each.
type WetScanner struct {
	Renderer *render.Renderer
	// DPI for pages that are not already rendered. Zero means 144.
	DPI int
	// MaxPages caps how many pages are inspected. Zero means 5.
	MaxPages int
}

const (
	// scanWidth is the working width pages are downscaled to.
	scanWidth = 800
	// bandFraction is the bottom portion of the page inspected.
	bandFraction = 0.35
	inkThreshold = 128
)

// Scan inspects up to MaxPages pages. rendered maps 0-based page indexes to
// PNGs already produced by the OCR pass, so those pages are not rasterized
// twice. Pages that cannot be rendered are skipped.
func (s *WetScanner) Scan(ctx context.Context, doc *pdf.Document, raw []byte, rendered map[int][]byte) Wet {
	out := Wet{Details: []WetDetail{}}
	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = 5
	}
	dpi := s.DPI
	if dpi <= 0 {
		dpi = 144
	}
	n := doc.PageCount()
	if n > maxPages {
		n = maxPages
	}
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		data := rendered[i]
		if data == nil {
			if s.Renderer == nil || !s.Renderer.Available() {
				continue
			}
			var err error
			data, err = s.Renderer.Page(ctx, raw, i+1, dpi)
			if err != nil {
				continue
			}
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			continue
		}
		page := doc.Page(i)
		out.Details = append(out.Details, scanPage(img, page, i+1)...)
	}
	out.Detected = len(out.Details)
	return out
}

// scanPage thresholds the downscaled page to an ink mask and measures the
// connected components inside the signature band.
func scanPage(img image.Image, page *pdf.Page, pageNo int) []WetDetail {
	img = downscale(img)
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	mask := make([]bool, w*h)
	bandTop := int(float64(h) * (1 - bandFraction))
	for y := bandTop; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// integer luma, components scaled back to 8 bits
			luma := (299*(r>>8) + 587*(g>>8) + 114*(bl>>8)) / 1000
			if luma < inkThreshold {
				mask[y*w+x] = true
			}
		}
	}

	var details []WetDetail
	seen := make([]bool, w*h)
	for y := bandTop; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if !mask[idx] || seen[idx] {
				continue
			}
			comp := floodFill(mask, seen, w, h, x, y)
			if d, ok := classify(comp, w, h, page, pageNo); ok {
				details = append(details, d)
			}
		}
	}
	return details
}

type component struct {
	minX, minY, maxX, maxY int
	area                   int
}

// floodFill collects the 8-connected component containing (x, y).
func floodFill(mask, seen []bool, w, h, x, y int) component {
	comp := component{minX: x, minY: y, maxX: x, maxY: y}
	stack := [][2]int{{x, y}}
	seen[y*w+x] = true
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		px, py := p[0], p[1]
		comp.area++
		if px < comp.minX {
			comp.minX = px
		}
		if px > comp.maxX {
			comp.maxX = px
		}
		if py < comp.minY {
			comp.minY = py
		}
		if py > comp.maxY {
			comp.maxY = py
		}
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := px+dx, py+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				nidx := ny*w + nx
				if mask[nidx] && !seen[nidx] {
					seen[nidx] = true
					stack = append(stack, [2]int{nx, ny})
				}
			}
		}
	}
	return comp
}

// classify decides whether a component is handwriting-shaped: sized like a
// signature, wider than tall but not a page-spanning rule, and with stroke-
// like ink density inside its box.
func classify(c component, imgW, imgH int, page *pdf.Page, pageNo int) (WetDetail, bool) {
	cw := c.maxX - c.minX + 1
	ch := c.maxY - c.minY + 1
	if cw < imgW/20 || ch < imgH/100 || ch < 6 {
		return WetDetail{}, false // specks and dots
	}
	if cw > imgW*85/100 {
		return WetDetail{}, false // full-width rule or table border
	}
	aspect := float64(cw) / float64(ch)
	if aspect < 1.2 || aspect > 14 {
		return WetDetail{}, false
	}
	density := float64(c.area) / float64(cw*ch)
	if density < 0.02 || density > 0.45 {
		return WetDetail{}, false // hairlines below, filled blocks above
	}

	confidence := 0.4
	if aspect >= 2 && aspect <= 8 {
		confidence += 0.25
	}
	if density >= 0.05 && density <= 0.25 {
		confidence += 0.25
	}

	// map image pixels back to PDF user space (y axis flips)
	var box [4]float64
	pw := page.MediaBox.Width()
	ph := page.MediaBox.Height()
	if pw > 0 && ph > 0 {
		sx := pw / float64(imgW)
		sy := ph / float64(imgH)
		box = [4]float64{
			page.MediaBox.X0 + float64(c.minX)*sx,
			page.MediaBox.Y0 + ph - float64(c.maxY+1)*sy,
			page.MediaBox.X0 + float64(c.maxX+1)*sx,
			page.MediaBox.Y0 + ph - float64(c.minY)*sy,
		}
	}
	return WetDetail{
		PageNo:     pageNo,
		BBox:       box,
		Confidence: confidence,
		InkRatio:   density,
	}, true
}

// downscale caps the working image at scanWidth pixels wide.
func downscale(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= scanWidth {
		return img
	}
	scale := float64(scanWidth) / float64(b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, scanWidth, int(float64(b.Dy())*scale)))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}
