package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MinFundamentalMatrixPoints is the minimum number of correspondences the
// eight-point algorithm needs.
const MinFundamentalMatrixPoints = 8

// RelativePose is the rigid transform between two camera frames, up to scale:
// a point x1 in the first camera frame maps to x2 = R*x1 + t in the second.
type RelativePose struct {
	Rotation    *mat.Dense
	Translation r3.Vector
}

// EstimateRelativePose estimates the relative pose of the camera of the
// second set of pixel observations with respect to the camera of the first,
// using the normalized eight-point algorithm and the cheirality check to
// disambiguate the four essential-matrix decompositions. The translation is
// recovered up to scale.
func EstimateRelativePose(pts1, pts2 []r2.Point, k *mat.Dense) (*RelativePose, error) {
	f, err := ComputeFundamentalMatrix(pts1, pts2)
	if err != nil {
		return nil, err
	}
	e := EssentialFromFundamental(k, k, f)
	r1, r2Mat, t, err := DecomposeEssential(e)
	if err != nil {
		return nil, err
	}
	rays1 := pixelsToRays(pts1, k)
	rays2 := pixelsToRays(pts2, k)
	candidates := []*RelativePose{
		{r1, t}, {r1, t.Mul(-1)}, {r2Mat, t}, {r2Mat, t.Mul(-1)},
	}
	best, bestDepthCount := (*RelativePose)(nil), 0
	for _, cand := range candidates {
		n := countPositiveDepths(cand, rays1, rays2)
		if n > bestDepthCount {
			best, bestDepthCount = cand, n
		}
	}
	if best == nil {
		return nil, errors.New("no essential matrix decomposition yields points in front of both cameras")
	}
	return best, nil
}

// ComputeFundamentalMatrix computes the fundamental matrix from matched pixel
// coordinates with the normalized eight-point algorithm.
func ComputeFundamentalMatrix(pts1, pts2 []r2.Point) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("matched point sets must have the same number of elements")
	}
	if len(pts1) < MinFundamentalMatrixPoints {
		return nil, errors.Errorf("need at least %d matched points, got %d", MinFundamentalMatrixPoints, len(pts1))
	}
	points1, t1 := normalizePoints(pts1)
	points2, t2 := normalizePoints(pts2)

	m := mat.NewDense(len(points1), 9, nil)
	for i := range points1 {
		v1 := points1[i]
		v2 := points2[i]
		m.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		})
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return nil, errors.New("failed to factorize correspondence matrix")
	}
	var v mat.Dense
	svd.VTo(&v)
	fData := make([]float64, 9)
	for i := range fData {
		fData[i] = v.At(i, 8)
	}
	f := mat.NewDense(3, 3, fData)

	// enforce rank 2
	f, err := projectToRankTwo(f)
	if err != nil {
		return nil, err
	}

	// undo the point normalization: T2^T F T1
	var out mat.Dense
	out.Mul(t2.T(), f)
	out.Mul(&out, t1)
	if s := out.At(2, 2); s != 0 {
		out.Scale(1/s, &out)
	}
	return &out, nil
}

// EssentialFromFundamental returns the essential matrix K2^T F K1 with its
// rank-2 constraint enforced.
func EssentialFromFundamental(k1, k2, f *mat.Dense) *mat.Dense {
	var e mat.Dense
	e.Mul(k2.T(), f)
	e.Mul(&e, k1)
	rankTwo, err := projectToRankTwo(&e)
	if err != nil {
		return &e
	}
	return rankTwo
}

// DecomposeEssential decomposes an essential matrix into its two candidate
// rotations and the translation direction.
func DecomposeEssential(essMat *mat.Dense) (*mat.Dense, *mat.Dense, r3.Vector, error) {
	var svd mat.SVD
	if ok := svd.Factorize(essMat, mat.SVDFull); !ok {
		return nil, nil, r3.Vector{}, errors.New("failed to factorize essential matrix")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	if mat.Det(&u) < 0 {
		u.Scale(-1, &u)
	}
	if mat.Det(&v) < 0 {
		v.Scale(-1, &v)
	}
	w := mat.NewDense(3, 3, []float64{
		0, 1, 0,
		-1, 0, 0,
		0, 0, 1,
	})
	var r1, r2Mat mat.Dense
	r1.Mul(&u, w)
	r1.Mul(&r1, v.T())
	r2Mat.Mul(&u, w.T())
	r2Mat.Mul(&r2Mat, v.T())
	t := r3.Vector{X: u.At(0, 2), Y: u.At(1, 2), Z: u.At(2, 2)}
	return &r1, &r2Mat, t, nil
}

// TriangulatePoint triangulates a 3D point, expressed in the first camera
// frame, from its unit-depth rays in two cameras related by the given
// relative pose. The linear DLT construction from Multiple View Geometry is
// used; ill-conditioned systems return an error.
func TriangulatePoint(pose *RelativePose, ray1, ray2 r3.Vector) (r3.Vector, error) {
	r := pose.Rotation
	t := pose.Translation
	// projection rows of P2 = [R|t]; P1 = [I|0]
	a := mat.NewDense(4, 4, []float64{
		1, 0, -ray1.X, 0,
		0, 1, -ray1.Y, 0,
		r.At(0, 0) - ray2.X*r.At(2, 0), r.At(0, 1) - ray2.X*r.At(2, 1), r.At(0, 2) - ray2.X*r.At(2, 2), t.X - ray2.X*t.Z,
		r.At(1, 0) - ray2.Y*r.At(2, 0), r.At(1, 1) - ray2.Y*r.At(2, 1), r.At(1, 2) - ray2.Y*r.At(2, 2), t.Y - ray2.Y*t.Z,
	})
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return r3.Vector{}, errors.New("failed to factorize triangulation system")
	}
	var v mat.Dense
	svd.VTo(&v)
	wHom := v.At(3, 3)
	if math.Abs(wHom) < 1e-12 {
		return r3.Vector{}, errors.New("triangulated point is at infinity")
	}
	return r3.Vector{
		X: v.At(0, 3) / wHom,
		Y: v.At(1, 3) / wHom,
		Z: v.At(2, 3) / wHom,
	}, nil
}

// TriangulatePoints triangulates each matched ray pair; pairs whose systems
// are ill-conditioned come back as zero vectors with ok=false.
func TriangulatePoints(pose *RelativePose, rays1, rays2 []r3.Vector) ([]r3.Vector, []bool, error) {
	if len(rays1) != len(rays2) {
		return nil, nil, errors.New("matched ray sets must have the same number of elements")
	}
	points := make([]r3.Vector, len(rays1))
	ok := make([]bool, len(rays1))
	for i := range rays1 {
		pt, err := TriangulatePoint(pose, rays1[i], rays2[i])
		if err != nil {
			continue
		}
		points[i] = pt
		ok[i] = true
	}
	return points, ok, nil
}

// ParallaxAngle returns the angle subtended at a point, expressed in the
// first camera frame, by the two camera centers of a relative pose.
func ParallaxAngle(pose *RelativePose, pt r3.Vector) float64 {
	// second camera center in the first camera frame: -R^T t
	var c2Mat mat.Dense
	c2Mat.Mul(pose.Rotation.T(), mat.NewDense(3, 1, []float64{pose.Translation.X, pose.Translation.Y, pose.Translation.Z}))
	c2 := r3.Vector{X: -c2Mat.At(0, 0), Y: -c2Mat.At(1, 0), Z: -c2Mat.At(2, 0)}
	ray1 := pt
	ray2 := pt.Sub(c2)
	n1, n2 := ray1.Norm(), ray2.Norm()
	if n1 == 0 || n2 == 0 {
		return 0
	}
	cos := ray1.Dot(ray2) / (n1 * n2)
	cos = math.Min(math.Max(cos, -1), 1)
	return math.Acos(cos)
}

// TransformToSecondCamera maps a point from the first camera frame of a
// relative pose into the second.
func TransformToSecondCamera(pose *RelativePose, pt r3.Vector) r3.Vector {
	r := pose.Rotation
	return r3.Vector{
		X: r.At(0, 0)*pt.X + r.At(0, 1)*pt.Y + r.At(0, 2)*pt.Z + pose.Translation.X,
		Y: r.At(1, 0)*pt.X + r.At(1, 1)*pt.Y + r.At(1, 2)*pt.Z + pose.Translation.Y,
		Z: r.At(2, 0)*pt.X + r.At(2, 1)*pt.Y + r.At(2, 2)*pt.Z + pose.Translation.Z,
	}
}

func countPositiveDepths(pose *RelativePose, rays1, rays2 []r3.Vector) int {
	n := 0
	for i := range rays1 {
		pt, err := TriangulatePoint(pose, rays1[i], rays2[i])
		if err != nil {
			continue
		}
		if pt.Z <= 0 {
			continue
		}
		if TransformToSecondCamera(pose, pt).Z > 0 {
			n++
		}
	}
	return n
}

func pixelsToRays(pts []r2.Point, k *mat.Dense) []r3.Vector {
	fx, fy := k.At(0, 0), k.At(1, 1)
	cx, cy := k.At(0, 2), k.At(1, 2)
	rays := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		rays[i] = r3.Vector{X: (pt.X - cx) / fx, Y: (pt.Y - cy) / fy, Z: 1}
	}
	return rays
}

// projectToRankTwo zeroes the smallest singular value of a 3x3 matrix.
func projectToRankTwo(m *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize matrix for rank projection")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)
	s := mat.NewDense(3, 3, nil)
	s.Set(0, 0, values[0])
	s.Set(1, 1, values[1])
	var out mat.Dense
	out.Mul(&u, s)
	out.Mul(&out, v.T())
	return &out, nil
}

// normalizePoints translates and scales points so their centroid is the
// origin and their mean distance from it is sqrt(2), per Multiple View
// Geometry Alg 11.1. It returns the transformed points and the 3x3 transform.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	n := float64(len(pts))
	mu := r2.Point{}
	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1 / n)
	d := 0.0
	for _, pt := range pts {
		d += math.Hypot(pt.X-mu.X, pt.Y-mu.Y) / n
	}
	scale := 1.0
	if d > 0 {
		scale = math.Sqrt2 / d
	}
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	transformed := make([]r2.Point, len(pts))
	for i, pt := range pts {
		transformed[i] = r2.Point{X: scale * (pt.X - mu.X), Y: scale * (pt.Y - mu.Y)}
	}
	return transformed, t
}
