package keypoints

import (
	"image"

	"github.com/fogleman/gg"
)

// PlotKeypoints draws keypoints as filled circles on the image and returns
// the result, for debugging feature extraction.
func PlotKeypoints(img *image.Gray, kps KeyPoints) image.Image {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	dc := gg.NewContext(w, h)
	dc.DrawImage(img, 0, 0)
	dc.SetRGBA(0, 0, 1, 0.5)
	for _, p := range kps {
		dc.DrawCircle(float64(p.X), float64(p.Y), 3)
		dc.Fill()
	}
	return dc.Image()
}

// PlotMatchedLines draws matched keypoint pairs of two images side by side
// with a line per match, for debugging descriptor matching. If vertical is
// true the images are stacked instead.
func PlotMatchedLines(im1, im2 image.Image, kps1, kps2 KeyPoints, vertical bool) image.Image {
	w, h := im1.Bounds().Dx()+im2.Bounds().Dx(), im1.Bounds().Dy()
	offsetX, offsetY := im1.Bounds().Dx(), 0
	if vertical {
		w = im1.Bounds().Dx()
		h = im1.Bounds().Dy() + im2.Bounds().Dy()
		offsetX, offsetY = 0, im1.Bounds().Dy()
	}
	dc := gg.NewContext(w, h)
	dc.DrawImage(im1, 0, 0)
	dc.DrawImage(im2, offsetX, offsetY)
	dc.SetRGBA(0, 1, 0, 0.5)
	dc.SetLineWidth(1.25)
	n := len(kps1)
	if len(kps2) < n {
		n = len(kps2)
	}
	for i := 0; i < n; i++ {
		p1 := kps1[i]
		p2 := kps2[i]
		dc.DrawLine(float64(p1.X), float64(p1.Y), float64(p2.X+offsetX), float64(p2.Y+offsetY))
		dc.Stroke()
	}
	return dc.Image()
}
