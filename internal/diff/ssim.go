package diff

import (
	"image"
)

// ssimC1 and ssimC2 are the standard SSIM stabilization constants for an
// 8-bit dynamic range (L = 255): C1 = (0.01L)^2, C2 = (0.03L)^2.
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// SSIM computes the structural similarity index between a and b. If the
// images differ in size, both are resized to their common minimum
// dimensions first. A windowed mean-SSIM is computed with a window of
// min(7, largest odd <= min-dim), clamped to a minimum of 3; if the common
// dimensions are too small for any odd window >= 3, SSIM falls back to a
// single global measurement over the whole image.
func SSIM(a, b image.Image) float64 {
	ga, gb := toGray(a), toGray(b)

	bounds := ga.Bounds()
	bw, bh := bounds.Dx(), bounds.Dy()
	if other := gb.Bounds(); other.Dx() != bw || other.Dy() != bh {
		w := min(bw, other.Dx())
		h := min(bh, other.Dy())
		ga = resizeGray(ga, w, h)
		gb = resizeGray(gb, w, h)
		bw, bh = w, h
	}

	minDim := min(bw, bh)
	window := oddWindow(minDim, 7)
	if window < 3 {
		return globalSSIM(ga, gb)
	}
	return windowedSSIM(ga, gb, window)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// oddWindow returns the largest odd number <= cap that also does not exceed
// minDim, or 0 if no odd window >= 1 fits.
func oddWindow(minDim, cap int) int {
	w := cap
	if w > minDim {
		w = minDim
	}
	if w%2 == 0 {
		w--
	}
	if w < 1 {
		return 0
	}
	return w
}

// globalSSIM computes a single SSIM value over the entire image, used when
// the common dimensions are too small for a windowed computation.
func globalSSIM(a, b *image.Gray) float64 {
	n := len(a.Pix)
	if n == 0 || n != len(b.Pix) {
		return 1
	}
	var meanA, meanB float64
	for i := range a.Pix {
		meanA += float64(a.Pix[i])
		meanB += float64(b.Pix[i])
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var varA, varB, covAB float64
	for i := range a.Pix {
		da := float64(a.Pix[i]) - meanA
		db := float64(b.Pix[i]) - meanB
		varA += da * da
		varB += db * db
		covAB += da * db
	}
	varA /= float64(n)
	varB /= float64(n)
	covAB /= float64(n)

	return ssimFormula(meanA, meanB, varA, varB, covAB)
}

// windowedSSIM slides a window x window box over both images (stride =
// window, non-overlapping for simplicity and speed) and averages the local
// SSIM values.
func windowedSSIM(a, b *image.Gray, window int) float64 {
	bounds := a.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var total float64
	var count int

	for y := 0; y+window <= h; y += window {
		for x := 0; x+window <= w; x += window {
			total += windowSSIMAt(a, b, x, y, window)
			count++
		}
	}
	if count == 0 {
		return globalSSIM(a, b)
	}
	return total / float64(count)
}

func windowSSIMAt(a, b *image.Gray, x0, y0, window int) float64 {
	n := window * window
	var meanA, meanB float64
	for dy := 0; dy < window; dy++ {
		rowA := a.PixOffset(x0, y0+dy)
		rowB := b.PixOffset(x0, y0+dy)
		for dx := 0; dx < window; dx++ {
			meanA += float64(a.Pix[rowA+dx])
			meanB += float64(b.Pix[rowB+dx])
		}
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var varA, varB, covAB float64
	for dy := 0; dy < window; dy++ {
		rowA := a.PixOffset(x0, y0+dy)
		rowB := b.PixOffset(x0, y0+dy)
		for dx := 0; dx < window; dx++ {
			da := float64(a.Pix[rowA+dx]) - meanA
			db := float64(b.Pix[rowB+dx]) - meanB
			varA += da * da
			varB += db * db
			covAB += da * db
		}
	}
	varA /= float64(n)
	varB /= float64(n)
	covAB /= float64(n)

	return ssimFormula(meanA, meanB, varA, varB, covAB)
}

func ssimFormula(meanA, meanB, varA, varB, covAB float64) float64 {
	num := (2*meanA*meanB + ssimC1) * (2*covAB + ssimC2)
	denom := (meanA*meanA + meanB*meanB + ssimC1) * (varA + varB + ssimC2)
	if denom == 0 {
		return 1
	}
	return num / denom
}

// DiffSSIM returns 1 - SSIM(a, b), the "structural diff" term the engine
// averages with histogram distance.
func DiffSSIM(a, b image.Image) float64 {
	return 1 - SSIM(a, b)
}
