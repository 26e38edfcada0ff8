package diff

import (
	"image"
	"math"
)

// HistogramMetric selects the distance function used to compare two
// grayscale histograms. Hellinger is the spec's normative default;
// correlation and chi-square are kept as a documented extension point
// (§ "Supplemented features" in SPEC_FULL.md), not required by any tested
// behavior.
type HistogramMetric string

const (
	HistogramHellinger   HistogramMetric = "hellinger"
	HistogramCorrelation HistogramMetric = "correlation"
	HistogramChiSquare   HistogramMetric = "chi_square"
)

// grayHistogram returns a 256-bin grayscale histogram of img, normalized to
// a probability distribution (bins sum to 1).
func grayHistogram(img image.Image) [256]float64 {
	var hist [256]float64
	gray := toGray(img)
	for _, p := range gray.Pix {
		hist[p]++
	}
	total := float64(len(gray.Pix))
	if total == 0 {
		return hist
	}
	for i := range hist {
		hist[i] /= total
	}
	return hist
}

// HistogramDistance computes the distance between the grayscale histograms
// of a and b using metric, in [0, 1] for Hellinger and chi-square; for
// correlation the result is mapped to [0, 1] via (1 - corr) / 2 so that
// "larger means more different" holds uniformly across metrics.
func HistogramDistance(a, b image.Image, metric HistogramMetric) float64 {
	ha := grayHistogram(a)
	hb := grayHistogram(b)
	switch metric {
	case HistogramCorrelation:
		return correlationDistance(ha, hb)
	case HistogramChiSquare:
		return chiSquareDistance(ha, hb)
	default:
		return hellingerDistance(ha, hb)
	}
}

// hellingerDistance implements sqrt(0.5 * sum((sqrt(p_i) - sqrt(q_i))^2)).
func hellingerDistance(p, q [256]float64) float64 {
	var sum float64
	for i := range p {
		d := math.Sqrt(p[i]) - math.Sqrt(q[i])
		sum += d * d
	}
	return math.Sqrt(0.5 * sum)
}

// chiSquareDistance implements sum((p_i - q_i)^2 / (p_i + q_i)), normalized
// into [0, 1] by halving (each bin contributes at most 2 to the raw sum).
func chiSquareDistance(p, q [256]float64) float64 {
	var sum float64
	for i := range p {
		denom := p[i] + q[i]
		if denom == 0 {
			continue
		}
		d := p[i] - q[i]
		sum += (d * d) / denom
	}
	return math.Min(sum/2, 1.0)
}

// correlationDistance computes Pearson correlation between the two
// histograms and maps it from [-1, 1] to a "bigger is more different"
// distance in [0, 1].
func correlationDistance(p, q [256]float64) float64 {
	var meanP, meanQ float64
	for i := range p {
		meanP += p[i]
		meanQ += q[i]
	}
	meanP /= 256
	meanQ /= 256

	var num, denomP, denomQ float64
	for i := range p {
		dp := p[i] - meanP
		dq := q[i] - meanQ
		num += dp * dq
		denomP += dp * dp
		denomQ += dq * dq
	}
	if denomP == 0 || denomQ == 0 {
		return 0
	}
	corr := num / math.Sqrt(denomP*denomQ)
	return (1 - corr) / 2
}
