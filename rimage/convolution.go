package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
)

// Kernel is a 2 dimensional convolution kernel.
type Kernel struct {
	Content [][]float64
	Height  int
	Width   int
}

// NewKernel creates a new Kernel with the given height and width, all zeros.
func NewKernel(height, width int) *Kernel {
	content := make([][]float64, height)
	for i := range content {
		content[i] = make([]float64, width)
	}
	return &Kernel{content, height, width}
}

// At returns the kernel value at position (x,y).
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// Size returns the kernel size as an image.Point.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// Total returns the sum of all kernel entries.
func (k *Kernel) Total() float64 {
	total := 0.0
	for _, row := range k.Content {
		for _, v := range row {
			total += v
		}
	}
	return total
}

// Normalize returns a copy of the kernel scaled so that its entries sum to 1.
func (k *Kernel) Normalize() *Kernel {
	total := k.Total()
	if total == 0 {
		total = 1
	}
	normalized := NewKernel(k.Height, k.Width)
	for y := 0; y < k.Height; y++ {
		for x := 0; x < k.Width; x++ {
			normalized.Content[y][x] = k.Content[y][x] / total
		}
	}
	return normalized
}

// GetGaussian5 returns the 5x5 Gaussian smoothing kernel.
func GetGaussian5() Kernel {
	return Kernel{[][]float64{
		{1, 4, 7, 4, 1},
		{4, 16, 26, 16, 4},
		{7, 26, 41, 26, 7},
		{4, 16, 26, 16, 4},
		{1, 4, 7, 4, 1},
	},
		5,
		5,
	}
}

// BorderPad is the type of padding to apply around an image before convolution.
type BorderPad int

const (
	// BorderConstant pads with zeros.
	BorderConstant BorderPad = iota
	// BorderReplicate pads with the closest edge pixel.
	BorderReplicate
)

// PaddingGray pads img so that a kernel of the given size anchored at anchor
// can be applied at every original pixel. The padded image has size
// original + kernelSize - 1, with the original content offset by anchor.
func PaddingGray(img *image.Gray, kernelSize, anchor image.Point, border BorderPad) (*image.Gray, error) {
	if kernelSize.X < 1 || kernelSize.Y < 1 {
		return nil, errors.Errorf("invalid kernel size (%d,%d)", kernelSize.X, kernelSize.Y)
	}
	if anchor.X < 0 || anchor.Y < 0 || anchor.X >= kernelSize.X || anchor.Y >= kernelSize.Y {
		return nil, errors.Errorf("anchor (%d,%d) must lie inside the kernel", anchor.X, anchor.Y)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	padded := image.NewGray(image.Rect(0, 0, w+kernelSize.X-1, h+kernelSize.Y-1))
	for y := 0; y < padded.Rect.Dy(); y++ {
		for x := 0; x < padded.Rect.Dx(); x++ {
			srcX := x - anchor.X
			srcY := y - anchor.Y
			inside := srcX >= 0 && srcX < w && srcY >= 0 && srcY < h
			switch {
			case inside:
				padded.SetGray(x, y, img.GrayAt(bounds.Min.X+srcX, bounds.Min.Y+srcY))
			case border == BorderReplicate:
				cx := clampInt(srcX, 0, w-1)
				cy := clampInt(srcY, 0, h-1)
				padded.SetGray(x, y, img.GrayAt(bounds.Min.X+cx, bounds.Min.Y+cy))
			default:
				padded.SetGray(x, y, color.Gray{0})
			}
		}
	}
	return padded, nil
}

// ConvolveGray applies a convolution kernel to a grayscale image. The anchor
// represents a point inside the area of the kernel; after every step of the
// convolution the position specified by the anchor gets updated on the result.
func ConvolveGray(img *image.Gray, kernel *Kernel, anchor image.Point, border BorderPad) (*image.Gray, error) {
	kernelSize := kernel.Size()
	padded, err := PaddingGray(img, kernelSize, anchor, border)
	if err != nil {
		return nil, err
	}
	result := image.NewGray(img.Bounds())
	bounds := img.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			sum := 0.0
			for ky := 0; ky < kernelSize.Y; ky++ {
				for kx := 0; kx < kernelSize.X; kx++ {
					sum += float64(padded.GrayAt(x+kx, y+ky).Y) * kernel.At(kx, ky)
				}
			}
			sum = math.Min(math.Max(math.Round(sum), 0), 255)
			result.SetGray(bounds.Min.X+x, bounds.Min.Y+y, color.Gray{uint8(sum)})
		}
	}
	return result, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
