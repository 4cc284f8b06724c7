package keypoints

import (
	"encoding/json"
	"image"
	"math"
	"os"
	"path/filepath"

	"go.viam.com/utils"
)

// FASTConfig holds the parameters for FAST corner detection.
type FASTConfig struct {
	NMSWinSize     int     `json:"nms_win_size_px"`
	Threshold      float64 `json:"threshold"`
	NMatchesCircle int     `json:"n_matches_circle"`
	Oriented       bool    `json:"oriented"`
}

// LoadFASTConfiguration loads a FASTConfig from a json file. It returns nil
// if the file cannot be read or decoded.
func LoadFASTConfiguration(file string) *FASTConfig {
	var config FASTConfig
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

// CircleIdx contains the 16 pixel offsets of the Bresenham circle of radius 3
// around a candidate corner, in clockwise order starting at the top.
var CircleIdx = []image.Point{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// CrossIdx contains the 4 compass offsets of the circle, used for the quick
// candidate rejection test.
var CrossIdx = []image.Point{{0, -3}, {3, 0}, {0, 3}, {-3, 0}}

// GetPointValuesInNeighborhood returns the pixel values at the given offsets
// around a point.
func GetPointValuesInNeighborhood(img *image.Gray, pt image.Point, neighborhood []image.Point) []float64 {
	values := make([]float64, len(neighborhood))
	for i, offset := range neighborhood {
		values[i] = float64(img.GrayAt(pt.X+offset.X, pt.Y+offset.Y).Y)
	}
	return values
}

// FASTKeypoints stores FAST keypoints and, if computed, their orientations.
type FASTKeypoints struct {
	Points       KeyPoints
	Orientations []float64
}

// NewFASTKeypointsFromImage detects FAST corners in a grayscale image with
// the segment test, applies non-maximum suppression, and computes keypoint
// orientations when the config asks for them. Degenerate images (empty or
// uniform) yield no keypoints.
func NewFASTKeypointsFromImage(img *image.Gray, cfg *FASTConfig) (*FASTKeypoints, error) {
	kps := detectFASTCorners(img, cfg)
	if !cfg.Oriented || len(kps) == 0 {
		return &FASTKeypoints{kps, nil}, nil
	}
	orientations, err := ComputeKeypointsOrientations(img, kps)
	if err != nil {
		return nil, err
	}
	return &FASTKeypoints{kps, orientations}, nil
}

// IsOriented returns true if the keypoints carry orientations.
func (kps *FASTKeypoints) IsOriented() bool {
	return kps.Orientations != nil
}

func detectFASTCorners(img *image.Gray, cfg *FASTConfig) KeyPoints {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	const radius = 3
	if w <= 2*radius || h <= 2*radius {
		return KeyPoints{}
	}
	threshold := cfg.Threshold * 255
	scores := make([]float64, w*h)
	candidates := KeyPoints{}
	for y := radius; y < h-radius; y++ {
		for x := radius; x < w-radius; x++ {
			pt := image.Point{bounds.Min.X + x, bounds.Min.Y + y}
			center := float64(img.GrayAt(pt.X, pt.Y).Y)
			if !passesQuickTest(img, pt, center, threshold) {
				continue
			}
			score, ok := segmentTest(img, pt, center, threshold, cfg.NMatchesCircle)
			if !ok {
				continue
			}
			scores[y*w+x] = score
			candidates = append(candidates, image.Point{x, y})
		}
	}
	return nonMaxSuppression(candidates, scores, w, h, cfg.NMSWinSize, bounds.Min)
}

// passesQuickTest rejects candidates for which fewer than 2 of the 4 compass
// pixels differ from the center beyond the threshold; any contiguous arc of 9
// or more circle pixels covers at least 2 compass pixels.
func passesQuickTest(img *image.Gray, pt image.Point, center, threshold float64) bool {
	brighter, darker := 0, 0
	for _, offset := range CrossIdx {
		v := float64(img.GrayAt(pt.X+offset.X, pt.Y+offset.Y).Y)
		if v > center+threshold {
			brighter++
		} else if v < center-threshold {
			darker++
		}
	}
	return brighter >= 2 || darker >= 2
}

// segmentTest checks for a contiguous arc of at least nContiguous circle
// pixels all brighter or all darker than the center beyond the threshold, and
// returns the corner score (sum of absolute differences over the circle).
func segmentTest(img *image.Gray, pt image.Point, center, threshold float64, nContiguous int) (float64, bool) {
	values := GetPointValuesInNeighborhood(img, pt, CircleIdx)
	n := len(values)
	score := 0.0
	longestBright, longestDark := 0, 0
	runBright, runDark := 0, 0
	// walk the circle twice to capture wrap-around arcs
	for i := 0; i < 2*n; i++ {
		v := values[i%n]
		if v > center+threshold {
			runBright++
			runDark = 0
		} else if v < center-threshold {
			runDark++
			runBright = 0
		} else {
			runBright, runDark = 0, 0
		}
		if runBright > longestBright {
			longestBright = runBright
		}
		if runDark > longestDark {
			longestDark = runDark
		}
		if i < n {
			score += math.Abs(v - center)
		}
	}
	if longestBright >= nContiguous || longestDark >= nContiguous {
		return score, true
	}
	return 0, false
}

func nonMaxSuppression(candidates KeyPoints, scores []float64, w, h, winSize int, offset image.Point) KeyPoints {
	if winSize < 1 {
		winSize = 1
	}
	half := winSize / 2
	out := KeyPoints{}
	for _, kp := range candidates {
		score := scores[kp.Y*w+kp.X]
		isMax := true
		for dy := -half; dy <= half && isMax; dy++ {
			for dx := -half; dx <= half; dx++ {
				nx, ny := kp.X+dx, kp.Y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h || (dx == 0 && dy == 0) {
					continue
				}
				neighbor := scores[ny*w+nx]
				// ties are broken toward the earlier (top-left) candidate
				if neighbor > score || (neighbor == score && (dy < 0 || (dy == 0 && dx < 0))) {
					isMax = false
					break
				}
			}
		}
		if isMax {
			out = append(out, image.Point{kp.X + offset.X, kp.Y + offset.Y})
		}
	}
	return out
}
