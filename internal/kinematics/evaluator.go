package kinematics

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/mocapstudy/bvhcompare/internal/bvh"
)

// LocalTransform builds a joint's parent-relative transform for one motion
// row: its offset, then every channel in declaration order. Rotations are
// right-multiplied; positions are added to the translation.
func LocalTransform(j *bvh.Joint, row []float64) Transform {
	t := Translation(j.Offset)
	for k, ch := range j.Channels {
		v := row[j.Columns[k]]
		if ch.IsRotation() {
			t = t.Compose(Rotation(ch.Axis(), v))
		} else {
			t.Translate(ch.Axis(), v)
		}
	}
	return t
}

type pending struct {
	joint  int
	parent Transform
}

// WorldPositions returns the world position of every joint for frame, in
// m.Joints order. It returns false when frame is outside [0, m.Frames()).
func WorldPositions(m *bvh.Motion, frame int) ([]mgl64.Vec3, bool) {
	row := m.Row(frame)
	if row == nil {
		return nil, false
	}

	out := make([]mgl64.Vec3, len(m.Joints))
	if len(m.Joints) == 0 {
		return out, true
	}

	stack := make([]pending, 0, len(m.Joints))
	stack = append(stack, pending{joint: m.Root, parent: Identity()})
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		j := &m.Joints[p.joint]
		if j.EndSite {
			out[p.joint] = p.parent.Apply(j.Offset)
			continue
		}
		world := p.parent.Compose(LocalTransform(j, row))
		out[p.joint] = world.Position()

		// reversed so children pop in declaration order
		for i := len(j.Children) - 1; i >= 0; i-- {
			stack = append(stack, pending{joint: j.Children[i], parent: world})
		}
	}
	return out, true
}

// Sequence evaluates every frame of m.
func Sequence(m *bvh.Motion) [][]mgl64.Vec3 {
	frames := make([][]mgl64.Vec3, m.Frames())
	for f := range frames {
		frames[f], _ = WorldPositions(m, f)
	}
	return frames
}
