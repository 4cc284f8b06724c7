package keypoints

import (
	"math"
	"math/rand"
)

// samplingSeed fixes the pseudo-random sample positions so that descriptors
// from the same configuration are comparable across runs.
const samplingSeed = 983

// sampleNIntegersUniform samples n integers uniformly in [vMin, vMax].
func sampleNIntegersUniform(r *rand.Rand, n int, vMin, vMax float64) []int {
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(math.Round(vMin + r.Float64()*(vMax-vMin)))
	}
	return samples
}

// sampleNIntegersNormal samples n integers from a normal distribution fitted
// so that the [vMin, vMax] range covers 4 standard deviations, clamped to the
// range.
func sampleNIntegersNormal(r *rand.Rand, n int, vMin, vMax float64) []int {
	mean := (vMin + vMax) / 2
	sigma := (vMax - vMin) / 4
	samples := make([]int, n)
	for i := range samples {
		v := math.Round(r.NormFloat64()*sigma + mean)
		samples[i] = int(math.Min(math.Max(v, vMin), vMax))
	}
	return samples
}

// sampleNRegularlySpaced samples n regularly spaced integers in [vMin, vMax].
func sampleNRegularlySpaced(n int, vMin, vMax float64) []int {
	step := (vMax - vMin) / float64(n)
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(math.Round(vMin + float64(i)*step))
	}
	return samples
}
