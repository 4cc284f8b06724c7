// Package keypoints implements image keypoint detection, description and
// matching: FAST corners, BRIEF binary descriptors and the ORB pipeline
// combining them over an image pyramid.
package keypoints

import (
	"image"
	"image/color"
	"math"

	"go.viam.com/monoslam/rimage"
)

type (
	// KeyPoint is an image.Point that contains the coordinates of a keypoint.
	KeyPoint = image.Point
	// KeyPoints is a slice of keypoint image coordinates.
	KeyPoints []image.Point
)

// orientationPatchRadius is the radius of the patch used to compute the
// intensity-centroid orientation of a keypoint.
const orientationPatchRadius = 15

// computeMaskOrientation creates the circular mask used to compute the
// orientation of corners.
func computeMaskOrientation() *image.Gray {
	size := 2*orientationPatchRadius + 1
	mask := image.NewGray(image.Rect(0, 0, size, size))
	indices := []int{15, 15, 15, 15, 14, 14, 14, 13, 13, 12, 11, 10, 9, 8, 6, 3}
	for i := -orientationPatchRadius; i <= orientationPatchRadius; i++ {
		half := indices[int(math.Abs(float64(i)))]
		for j := -half; j <= half; j++ {
			mask.Set(j+orientationPatchRadius, i+orientationPatchRadius, color.Gray{1})
		}
	}
	return mask
}

// ComputeKeypointsOrientations computes the intensity-centroid orientation of
// each keypoint over a circular patch around it.
func ComputeKeypointsOrientations(img *image.Gray, kps KeyPoints) ([]float64, error) {
	padded, err := rimage.PaddingGray(img,
		image.Point{2*orientationPatchRadius + 1, 2*orientationPatchRadius + 1},
		image.Point{orientationPatchRadius, orientationPatchRadius},
		rimage.BorderConstant,
	)
	if err != nil {
		return nil, err
	}
	mask := computeMaskOrientation()
	orientations := make([]float64, len(kps))
	for i, kp := range kps {
		m01, m10 := 0.0, 0.0
		for dy := -orientationPatchRadius; dy <= orientationPatchRadius; dy++ {
			for dx := -orientationPatchRadius; dx <= orientationPatchRadius; dx++ {
				if mask.GrayAt(dx+orientationPatchRadius, dy+orientationPatchRadius).Y == 0 {
					continue
				}
				// the padded image holds the original offset by the patch radius
				v := float64(padded.GrayAt(kp.X+dx+orientationPatchRadius, kp.Y+dy+orientationPatchRadius).Y)
				m01 += float64(dy) * v
				m10 += float64(dx) * v
			}
		}
		orientations[i] = math.Atan2(m01, m10)
	}
	return orientations, nil
}

// RescaleKeypoints scales keypoint coordinates by a factor, used to map
// detections on a pyramid level back into the full-resolution image.
func RescaleKeypoints(kps KeyPoints, scale float64) KeyPoints {
	rescaled := make(KeyPoints, len(kps))
	for i, kp := range kps {
		rescaled[i] = image.Point{
			X: int(math.Round(float64(kp.X) * scale)),
			Y: int(math.Round(float64(kp.Y) * scale)),
		}
	}
	return rescaled
}
