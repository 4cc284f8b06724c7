package keypoints

import (
	"image"
	"testing"

	"go.viam.com/test"
)

func TestPlotKeypoints(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 40, 30))
	kps := KeyPoints{{10, 10}, {20, 15}}
	out := PlotKeypoints(img, kps)
	test.That(t, out, test.ShouldNotBeNil)
	test.That(t, out.Bounds().Dx(), test.ShouldEqual, 40)
	test.That(t, out.Bounds().Dy(), test.ShouldEqual, 30)
}

func TestPlotMatchedLines(t *testing.T) {
	im1 := image.NewGray(image.Rect(0, 0, 40, 30))
	im2 := image.NewGray(image.Rect(0, 0, 40, 30))
	kps1 := KeyPoints{{5, 5}, {10, 10}}
	kps2 := KeyPoints{{6, 5}}

	out := PlotMatchedLines(im1, im2, kps1, kps2, false)
	test.That(t, out.Bounds().Dx(), test.ShouldEqual, 80)
	test.That(t, out.Bounds().Dy(), test.ShouldEqual, 30)

	out = PlotMatchedLines(im1, im2, kps1, kps2, true)
	test.That(t, out.Bounds().Dx(), test.ShouldEqual, 40)
	test.That(t, out.Bounds().Dy(), test.ShouldEqual, 60)
}
