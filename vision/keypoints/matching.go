package keypoints

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// MatchingConfig contains the parameters for matching descriptors.
type MatchingConfig struct {
	DoCrossCheck bool `json:"do_cross_check"`
	MaxDist      int  `json:"max_dist"`
}

// DescriptorMatch contains the index of a match in the first and second set
// of descriptors, and their Hamming distance.
type DescriptorMatch struct {
	Idx1     int
	Idx2     int
	Distance int
}

// DescriptorMatches contains the matched indices and the descriptor sets they
// refer to.
type DescriptorMatches struct {
	Indices      []DescriptorMatch
	Descriptors1 Descriptors
	Descriptors2 Descriptors
}

// MatchDescriptors takes 2 sets of descriptors and performs brute-force
// Hamming matching: each descriptor of the first set is matched to its
// nearest neighbor in the second, optionally cross-checked against the
// reverse matching and gated by a maximum distance. Matches are returned
// sorted by ascending distance.
func MatchDescriptors(desc1, desc2 Descriptors, cfg *MatchingConfig, logger golog.Logger) *DescriptorMatches {
	if len(desc1) == 0 || len(desc2) == 0 {
		return &DescriptorMatches{nil, desc1, desc2}
	}
	distances, err := DescriptorsHammingDistance(desc1, desc2)
	if err != nil {
		logger.Debugw("descriptor matching failed", "error", err)
		return nil
	}
	forward := argMinPerRow(distances)
	keep := make([]bool, len(desc1))
	for i := range keep {
		keep[i] = true
	}
	if cfg.DoCrossCheck {
		backward := argMinPerColumn(distances)
		for i := range forward {
			if backward[forward[i]] != i {
				keep[i] = false
			}
		}
	}
	if cfg.MaxDist > 0 {
		for i := range forward {
			if distances[i][forward[i]] >= cfg.MaxDist {
				keep[i] = false
			}
		}
	}
	kept := make([]DescriptorMatch, 0, len(desc1))
	for i := range desc1 {
		if keep[i] {
			kept = append(kept, DescriptorMatch{i, forward[i], distances[i][forward[i]]})
		}
	}
	// sort matches by ascending distance
	dists := make([]float64, len(kept))
	for i, m := range kept {
		dists[i] = float64(m.Distance)
	}
	order := make([]int, len(kept))
	floats.Argsort(dists, order)
	matches := make([]DescriptorMatch, len(kept))
	for i, idx := range order {
		matches[i] = kept[idx]
	}
	return &DescriptorMatches{matches, desc1, desc2}
}

// GetMatchingKeyPoints returns the two keypoint sets reordered so that
// entries at the same index correspond to each other.
func GetMatchingKeyPoints(matches *DescriptorMatches, kps1, kps2 KeyPoints) (KeyPoints, KeyPoints, error) {
	if len(kps1) < len(matches.Indices) {
		return nil, nil, errors.New("there are more matches than keypoints in the first set")
	}
	if len(kps2) < len(matches.Indices) {
		return nil, nil, errors.New("there are more matches than keypoints in the second set")
	}
	matchedKps1 := make(KeyPoints, len(matches.Indices))
	matchedKps2 := make(KeyPoints, len(matches.Indices))
	for i, match := range matches.Indices {
		matchedKps1[i] = kps1[match.Idx1]
		matchedKps2[i] = kps2[match.Idx2]
	}
	return matchedKps1, matchedKps2, nil
}

func argMinPerRow(distances [][]int) []int {
	indices := make([]int, len(distances))
	for i, row := range distances {
		best := 0
		for j, d := range row {
			if d < row[best] {
				best = j
			}
		}
		indices[i] = best
	}
	return indices
}

func argMinPerColumn(distances [][]int) []int {
	nCols := len(distances[0])
	indices := make([]int, nCols)
	for j := 0; j < nCols; j++ {
		best := 0
		for i := range distances {
			if distances[i][j] < distances[best][j] {
				best = i
			}
		}
		indices[j] = best
	}
	return indices
}
