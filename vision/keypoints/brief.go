package keypoints

import (
	"encoding/json"
	"image"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"go.viam.com/utils"

	"go.viam.com/monoslam/rimage"
)

// SamplingType selects how the BRIEF sample positions are drawn.
type SamplingType int

const (
	// SamplingUniform draws sample positions uniformly over the patch.
	SamplingUniform SamplingType = iota
	// SamplingNormal draws sample positions from a normal distribution
	// centered on the patch.
	SamplingNormal
	// SamplingFixed uses regularly spaced symmetric sample positions.
	SamplingFixed
)

// SamplePairs are N pairs of points used to create the BRIEF descriptor of a
// patch.
type SamplePairs struct {
	P0 []image.Point
	P1 []image.Point
	N  int
}

// GenerateSamplePairs generates n sample pairs for a patch size with the
// chosen sampling type. The positions are deterministic for a given
// configuration.
func GenerateSamplePairs(dist SamplingType, n, patchSize int) *SamplePairs {
	// one source for all coordinate draws, so the pairs are distinct yet
	// reproducible across calls
	//nolint:gosec
	r := rand.New(rand.NewSource(samplingSeed))
	var xs0, ys0, xs1, ys1 []int
	if dist == SamplingFixed {
		xs0 = sampleIntegers(r, patchSize, n, dist)
		ys0 = sampleIntegers(r, patchSize, n, dist)
		xs1 = sampleIntegers(r, patchSize, n, dist)
		ys1 = make([]int, n)
		for i := 0; i < n; i++ {
			ys1[i] = -ys0[i]
			if i%2 == 0 {
				xs0[i] = 2 * xs0[i] / 3
				xs1[i] = -2 * xs1[i] / 3
				ys1[i] = ys0[i]
			}
		}
	} else {
		xs0 = sampleIntegers(r, patchSize, n, dist)
		ys0 = sampleIntegers(r, patchSize, n, dist)
		xs1 = sampleIntegers(r, patchSize, n, dist)
		ys1 = sampleIntegers(r, patchSize, n, dist)
	}
	p0 := make([]image.Point, 0, n)
	p1 := make([]image.Point, 0, n)
	for i := 0; i < n; i++ {
		p0 = append(p0, image.Point{X: xs0[i], Y: ys0[i]})
		p1 = append(p1, image.Point{X: xs1[i], Y: ys1[i]})
	}
	return &SamplePairs{P0: p0, P1: p1, N: n}
}

func sampleIntegers(r *rand.Rand, patchSize, n int, sampling SamplingType) []int {
	vMin := math.Round(-(float64(patchSize) - 2) / 2.)
	vMax := math.Round(float64(patchSize) / 2.)
	switch sampling {
	case SamplingUniform:
		return sampleNIntegersUniform(r, n, vMin, vMax)
	case SamplingNormal:
		return sampleNIntegersNormal(r, n, vMin, vMax)
	case SamplingFixed:
		return sampleNRegularlySpaced(n, vMin, vMax)
	default:
		return sampleNIntegersUniform(r, n, vMin, vMax)
	}
}

// BRIEFConfig stores the parameters for BRIEF descriptor computation.
type BRIEFConfig struct {
	N              int          `json:"n"` // number of sample pairs taken
	Sampling       SamplingType `json:"sampling"`
	UseOrientation bool         `json:"use_orientation"`
	PatchSize      int          `json:"patch_size"`
}

// LoadBRIEFConfiguration loads a BRIEFConfig from a json file. It returns nil
// if the file cannot be read or decoded.
func LoadBRIEFConfiguration(file string) *BRIEFConfig {
	var config BRIEFConfig
	filePath := filepath.Clean(file)
	configFile, err := os.Open(filePath)
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err != nil {
		return nil
	}
	jsonParser := json.NewDecoder(configFile)
	if err = jsonParser.Decode(&config); err != nil {
		return nil
	}
	return &config
}

// ComputeBRIEFDescriptors computes BRIEF descriptors on image img at the
// given keypoints. Keypoints whose patch does not fit inside the image get an
// all-zero descriptor.
func ComputeBRIEFDescriptors(img *image.Gray, sp *SamplePairs, kps *FASTKeypoints, cfg *BRIEFConfig) (Descriptors, error) {
	kernel := rimage.GetGaussian5()
	normalized := kernel.Normalize()
	blurred, err := rimage.ConvolveGray(img, normalized, image.Point{2, 2}, rimage.BorderConstant)
	if err != nil {
		return nil, err
	}

	nWords := sp.N / 64
	if sp.N%64 != 0 {
		nWords++
	}
	descs := make(Descriptors, len(kps.Points))
	bnd := blurred.Bounds()
	halfSize := cfg.PatchSize / 2
	for k, kp := range kps.Points {
		descriptor := make(Descriptor, nWords)
		descs[k] = descriptor
		corners := []image.Point{
			{kp.X + halfSize, kp.Y + halfSize},
			{kp.X + halfSize, kp.Y - halfSize},
			{kp.X - halfSize, kp.Y + halfSize},
			{kp.X - halfSize, kp.Y - halfSize},
		}
		inBounds := true
		for _, c := range corners {
			if !c.In(bnd) {
				inBounds = false
				break
			}
		}
		if !inBounds {
			continue
		}
		cosTheta, sinTheta := 1.0, 0.0
		if cfg.UseOrientation && kps.Orientations != nil {
			angle := kps.Orientations[k]
			cosTheta = math.Cos(angle)
			sinTheta = math.Sin(angle)
		}
		for i := 0; i < sp.N; i++ {
			x0, y0 := float64(sp.P0[i].X), float64(sp.P0[i].Y)
			x1, y1 := float64(sp.P1[i].X), float64(sp.P1[i].Y)
			// rotate sample coordinates by the keypoint orientation
			outx0 := int(math.Round(cosTheta*x0 - sinTheta*y0))
			outy0 := int(math.Round(sinTheta*x0 + cosTheta*y0))
			outx1 := int(math.Round(cosTheta*x1 - sinTheta*y1))
			outy1 := int(math.Round(sinTheta*x1 + cosTheta*y1))
			p0Val := blurred.GrayAt(kp.X+outx0, kp.Y+outy0).Y
			p1Val := blurred.GrayAt(kp.X+outx1, kp.Y+outy1).Y
			if p0Val > p1Val {
				descriptor[i/64] |= 1 << (i % 64)
			}
		}
	}
	return descs, nil
}
