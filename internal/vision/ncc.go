package vision

import (
	"image"
	"math"
)

// Rec. 709 luma weights.
const (
	lumaR = 0.2126
	lumaG = 0.7152
	lumaB = 0.0722
)

// varianceEpsilon is the variance below which a window is treated as flat.
const varianceEpsilon = 1e-9

// constantTolerance is the mean difference (8-bit scale) accepted when a
// flat template is compared against a flat window.
const constantTolerance = 0.5

type nccOptions struct {
	// Stride is the coarse scan step in pixels. Values < 1 mean 1.
	Stride int

	// Refine rescans ±Stride around the coarse best at step 1.
	Refine bool

	// UseRGB averages per-channel scores instead of scoring luma.
	UseRGB bool
}

// nccResult is the best window found by matchNCC. X and Y are the
// top-left corner in frame coordinates.
type nccResult struct {
	X, Y  int
	Score float64
}

// templatePlanes holds the opaque template pixels, one slice per channel,
// and the frame-relative offset of each pixel.
type templatePlanes struct {
	offsets  []int
	values   [][]float64
	mean     []float64
	std      []float64
	constant bool
}

// matchNCC runs masked normalized cross-correlation of tmpl over frame and
// returns the best-scoring window. Template pixels with alpha 0 are
// ignored; transparent frame pixels count as black. ok is false when no
// window could be scored (template larger than frame, or fully transparent).
func matchNCC(frame, tmpl *image.RGBA, opts nccOptions) (res nccResult, ok bool) {
	if frame == nil || tmpl == nil {
		return nccResult{}, false
	}
	fb, tb := frame.Bounds(), tmpl.Bounds()
	fw, fh := fb.Dx(), fb.Dy()
	tw, th := tb.Dx(), tb.Dy()
	if tw == 0 || th == 0 || fw < tw || fh < th {
		return nccResult{}, false
	}

	channels := 1
	if opts.UseRGB {
		channels = 3
	}

	tp := buildTemplatePlanes(tmpl, fw, channels)
	if len(tp.offsets) == 0 {
		return nccResult{}, false
	}
	fp := buildFramePlanes(frame, channels)

	stride := opts.Stride
	if stride < 1 {
		stride = 1
	}

	best := nccResult{Score: -1}
	scan := func(x0, x1, y0, y1, step int) {
		for y := y0; y <= y1; y += step {
			for x := x0; x <= x1; x += step {
				s := scoreWindow(fp, tp, y*fw+x)
				if s > best.Score {
					best = nccResult{X: x, Y: y, Score: s}
				}
			}
		}
	}

	scan(0, fw-tw, 0, fh-th, stride)

	if opts.Refine && stride > 1 {
		scan(
			max(0, best.X-stride), min(fw-tw, best.X+stride),
			max(0, best.Y-stride), min(fh-th, best.Y+stride),
			1,
		)
	}

	best.X += fb.Min.X
	best.Y += fb.Min.Y
	return best, true
}

// scoreWindow returns the NCC score of the window whose top-left pixel
// has linear index base, or -1 when the window cannot be scored.
func scoreWindow(fp [][]float64, tp templatePlanes, base int) float64 {
	n := float64(len(tp.offsets))
	var total float64
	var scored int

	for c, plane := range fp {
		tv := tp.values[c]
		var sumF, sumF2, sumFT float64
		for i, off := range tp.offsets {
			v := plane[base+off]
			sumF += v
			sumF2 += v * v
			sumFT += v * tv[i]
		}
		meanF := sumF / n
		varF := (sumF2 - sumF*sumF/n) / n

		if tp.constant {
			if varF > varianceEpsilon || math.Abs(meanF-tp.mean[c]) > constantTolerance {
				return 0
			}
			continue
		}
		// A channel that is flat in the template carries no correlation.
		if tp.std[c] == 0 {
			continue
		}
		if varF <= varianceEpsilon {
			return -1
		}

		denom := n * math.Sqrt(varF) * tp.std[c]
		total += (sumFT - n*meanF*tp.mean[c]) / denom
		scored++
	}

	if tp.constant {
		return 1
	}
	if scored == 0 {
		return -1
	}
	return total / float64(scored)
}

func buildTemplatePlanes(tmpl *image.RGBA, frameWidth, channels int) templatePlanes {
	b := tmpl.Bounds()
	w, h := b.Dx(), b.Dy()

	tp := templatePlanes{
		offsets: make([]int, 0, w*h),
		values:  make([][]float64, channels),
		mean:    make([]float64, channels),
		std:     make([]float64, channels),
	}
	for c := range tp.values {
		tp.values[c] = make([]float64, 0, w*h)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := tmpl.PixOffset(b.Min.X+x, b.Min.Y+y)
			px := tmpl.Pix[i : i+4 : i+4]
			if px[3] == 0 {
				continue
			}
			tp.offsets = append(tp.offsets, y*frameWidth+x)
			appendPixel(tp.values, px)
		}
	}

	n := float64(len(tp.offsets))
	if n == 0 {
		return tp
	}

	tp.constant = true
	for c, vals := range tp.values {
		var sum, sum2 float64
		for _, v := range vals {
			sum += v
			sum2 += v * v
		}
		tp.mean[c] = sum / n
		variance := (sum2 - sum*sum/n) / n
		if variance > varianceEpsilon {
			tp.constant = false
			tp.std[c] = math.Sqrt(variance)
		}
	}
	return tp
}

func buildFramePlanes(frame *image.RGBA, channels int) [][]float64 {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()

	planes := make([][]float64, channels)
	for c := range planes {
		planes[c] = make([]float64, w*h)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := frame.PixOffset(b.Min.X+x, b.Min.Y+y)
			px := frame.Pix[i : i+4 : i+4]
			if px[3] == 0 {
				continue
			}
			off := y*w + x
			if channels == 1 {
				planes[0][off] = luma(px)
				continue
			}
			planes[0][off] = float64(px[0])
			planes[1][off] = float64(px[1])
			planes[2][off] = float64(px[2])
		}
	}
	return planes
}

func appendPixel(values [][]float64, px []uint8) {
	if len(values) == 1 {
		values[0] = append(values[0], luma(px))
		return
	}
	values[0] = append(values[0], float64(px[0]))
	values[1] = append(values[1], float64(px[1]))
	values[2] = append(values[2], float64(px[2]))
}

func luma(px []uint8) float64 {
	return lumaR*float64(px[0]) + lumaG*float64(px[1]) + lumaB*float64(px[2])
}
