// Package transform implements the camera models and multiple-view geometry
// used by the tracking core.
package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DistortionModel holds the Brown-Conrady distortion coefficients of a camera.
type DistortionModel struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// PinholeCameraIntrinsics holds the intrinsic parameters of a pinhole camera.
type PinholeCameraIntrinsics struct {
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Fx         float64         `json:"fx"`
	Fy         float64         `json:"fy"`
	Ppx        float64         `json:"ppx"`
	Ppy        float64         `json:"ppy"`
	Distortion DistortionModel `json:"distortion"`
}

// CheckValid returns an error if the intrinsics are incomplete.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return errors.New("pinhole camera intrinsics are nil")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return errors.Errorf("invalid image dimensions (%d,%d)", params.Width, params.Height)
	}
	if params.Fx <= 0 || params.Fy <= 0 {
		return errors.Errorf("invalid focal lengths (%f,%f)", params.Fx, params.Fy)
	}
	return nil
}

// GetCameraMatrix returns the intrinsics as a 3x3 camera matrix K.
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		params.Fx, 0, params.Ppx,
		0, params.Fy, params.Ppy,
		0, 0, 1,
	})
}

// PointToPixel projects a 3D point in the camera frame to pixel coordinates.
// The point must have positive depth.
func (params *PinholeCameraIntrinsics) PointToPixel(pt r3.Vector) r2.Point {
	return r2.Point{
		X: params.Fx*pt.X/pt.Z + params.Ppx,
		Y: params.Fy*pt.Y/pt.Z + params.Ppy,
	}
}

// PixelToRay back-projects a pixel to the unit-depth ray through it in the
// camera frame.
func (params *PinholeCameraIntrinsics) PixelToRay(px r2.Point) r3.Vector {
	return r3.Vector{
		X: (px.X - params.Ppx) / params.Fx,
		Y: (px.Y - params.Ppy) / params.Fy,
		Z: 1,
	}
}

// InImage reports whether a pixel lies within the image bounds, with an
// optional margin in pixels.
func (params *PinholeCameraIntrinsics) InImage(px r2.Point, margin float64) bool {
	return px.X >= -margin && px.X < float64(params.Width)+margin &&
		px.Y >= -margin && px.Y < float64(params.Height)+margin
}
