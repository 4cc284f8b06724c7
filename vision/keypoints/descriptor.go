package keypoints

import (
	"math/bits"

	"github.com/pkg/errors"
)

// Descriptor is a binary feature descriptor stored as packed 64-bit words.
type Descriptor []uint64

// Descriptors is a set of binary descriptors.
type Descriptors []Descriptor

// HammingDistance returns the number of differing bits between two
// descriptors of the same length.
func HammingDistance(d1, d2 Descriptor) (int, error) {
	if len(d1) != len(d2) {
		return 0, errors.Errorf("descriptors have different lengths (%d != %d)", len(d1), len(d2))
	}
	distance := 0
	for i := range d1 {
		distance += bits.OnesCount64(d1[i] ^ d2[i])
	}
	return distance, nil
}

// DescriptorsHammingDistance computes the pairwise Hamming distances between
// two sets of descriptors.
func DescriptorsHammingDistance(descs1, descs2 Descriptors) ([][]int, error) {
	distances := make([][]int, len(descs1))
	for i, d1 := range descs1 {
		row := make([]int, len(descs2))
		for j, d2 := range descs2 {
			d, err := HammingDistance(d1, d2)
			if err != nil {
				return nil, err
			}
			row[j] = d
		}
		distances[i] = row
	}
	return distances, nil
}
