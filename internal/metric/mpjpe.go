// Package metric compares two motions by Mean Per-Joint Position Error.
package metric

import (
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mocapstudy/bvhcompare/internal/bvh"
	"github.com/mocapstudy/bvhcompare/internal/kinematics"
)

// Report summarizes the per-frame and overall position error between two motions.
type Report struct {
	MPJPE       float64   `json:"mpjpe"`
	FrameErrors []float64 `json:"frame_errors"`
	NumFrames   int       `json:"num_frames"`
	NumJoints   int       `json:"num_joints"`
	MinError    float64   `json:"min_error"`
	MaxError    float64   `json:"max_error"`
	// Duration is NumFrames times the first motion's frame time.
	Duration float64 `json:"duration"`
}

// Comparable reports whether at least one frame was compared. A zero MPJPE
// with Comparable() == false means "no overlap", not "identical".
func (r Report) Comparable() bool {
	return len(r.FrameErrors) > 0
}

// MPJPE parses both files and compares them. Parse failures are returned as is.
func MPJPE(pathA, pathB string) (Report, error) {
	return NewComparer(bvh.NewParser(nil)).MPJPE(pathA, pathB)
}

// Comparer parses and compares motion files.
type Comparer struct {
	parser *bvh.Parser
}

// NewComparer creates a Comparer that parses with p.
func NewComparer(p *bvh.Parser) *Comparer {
	return &Comparer{parser: p}
}

// MPJPE parses pathA and pathB independently and compares them.
func (c *Comparer) MPJPE(pathA, pathB string) (Report, error) {
	a, err := c.parser.Parse(pathA)
	if err != nil {
		return Report{}, err
	}
	b, err := c.parser.Parse(pathB)
	if err != nil {
		return Report{}, err
	}
	return Compare(a, b), nil
}

// Compare computes the report for two parsed motions. Frames and joints are
// truncated to the shorter motion and joints are paired by declaration
// position, not by name.
func Compare(a, b *bvh.Motion) Report {
	r := Report{
		NumFrames: min(a.Frames(), b.Frames()),
		NumJoints: min(len(a.Joints), len(b.Joints)),
	}
	r.Duration = float64(r.NumFrames) * a.FrameTime
	r.FrameErrors = frameErrors(a, b, r.NumFrames, r.NumJoints)

	if len(r.FrameErrors) > 0 {
		r.MPJPE = stat.Mean(r.FrameErrors, nil)
		r.MinError = floats.Min(r.FrameErrors)
		r.MaxError = floats.Max(r.FrameErrors)
	}
	return r
}

// frameErrors evaluates frames concurrently. Each goroutine writes only its
// own slot; skipped frames are dropped afterwards.
func frameErrors(a, b *bvh.Motion, numFrames, numJoints int) []float64 {
	if numFrames == 0 || numJoints == 0 {
		return []float64{}
	}

	errs := make([]float64, numFrames)
	ok := make([]bool, numFrames)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for f := 0; f < numFrames; f++ {
		g.Go(func() error {
			errs[f], ok[f] = FrameError(a, b, f, numJoints)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]float64, 0, numFrames)
	for f, e := range errs {
		if ok[f] {
			out = append(out, e)
		}
	}
	return out
}

// FrameError returns the mean Euclidean distance over the first numJoints
// joints of frame f. It returns false if either motion has no such frame.
func FrameError(a, b *bvh.Motion, f, numJoints int) (float64, bool) {
	pa, okA := kinematics.WorldPositions(a, f)
	pb, okB := kinematics.WorldPositions(b, f)
	if !okA || !okB || numJoints == 0 {
		return 0, false
	}
	numJoints = min(numJoints, len(pa), len(pb))

	var sum float64
	for j := 0; j < numJoints; j++ {
		sum += pa[j].Sub(pb[j]).Len()
	}
	return sum / float64(numJoints), true
}
