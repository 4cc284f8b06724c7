// Package rimage provides the grayscale image utilities backing feature extraction.
package rimage

import (
	"image"
	"image/draw"
)

// MakeGray converts any image into a grayscale image.Gray.
func MakeGray(pic image.Image) *image.Gray {
	if g, ok := pic.(*image.Gray); ok {
		return g
	}
	result := image.NewGray(pic.Bounds())
	draw.Draw(result, result.Bounds(), pic, pic.Bounds().Min, draw.Src)
	return result
}

// SameImgSize compares two images to see if they are the same size.
func SameImgSize(g1, g2 image.Image) bool {
	return g1.Bounds().Size() == g2.Bounds().Size()
}

// IsUniformGray returns true if every pixel of the image has the same value.
// A zero-size image is considered uniform.
func IsUniformGray(img *image.Gray) bool {
	bounds := img.Bounds()
	if bounds.Empty() {
		return true
	}
	first := img.GrayAt(bounds.Min.X, bounds.Min.Y).Y
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if img.GrayAt(x, y).Y != first {
				return false
			}
		}
	}
	return true
}

// ResizeGray resizes a grayscale image to the given dimensions with
// nearest-neighbor sampling.
func ResizeGray(img *image.Gray, width, height int) *image.Gray {
	result := image.NewGray(image.Rect(0, 0, width, height))
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 || width == 0 || height == 0 {
		return result
	}
	for y := 0; y < height; y++ {
		srcY := bounds.Min.Y + y*srcH/height
		for x := 0; x < width; x++ {
			srcX := bounds.Min.X + x*srcW/width
			result.SetGray(x, y, img.GrayAt(srcX, srcY))
		}
	}
	return result
}
