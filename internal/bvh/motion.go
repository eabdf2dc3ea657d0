// Package bvh parses hierarchical motion-capture files into a joint arena and
// a frame × channel motion table.
package bvh

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// NoParent marks the root joint's parent index.
const NoParent = -1

// EndSiteSuffix is appended to the parent's name for synthesized terminal joints.
const EndSiteSuffix = "_end"

// Axis selects one of the three Cartesian axes.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// Channel is one animated degree of freedom of a joint.
type Channel int

const (
	Xrotation Channel = iota
	Yrotation
	Zrotation
	Xposition
	Yposition
	Zposition
)

var channelNames = [...]string{
	Xrotation: "Xrotation",
	Yrotation: "Yrotation",
	Zrotation: "Zrotation",
	Xposition: "Xposition",
	Yposition: "Yposition",
	Zposition: "Zposition",
}

// ParseChannel converts a channel token such as "Zrotation" into a Channel.
func ParseChannel(s string) (Channel, error) {
	for i, name := range channelNames {
		if name == s {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

func (c Channel) String() string {
	if c < 0 || int(c) >= len(channelNames) {
		return fmt.Sprintf("Channel(%d)", int(c))
	}
	return channelNames[c]
}

// IsRotation reports whether the channel rotates about its axis.
func (c Channel) IsRotation() bool {
	return c >= Xrotation && c <= Zrotation
}

// Axis returns the axis the channel acts along or about.
func (c Channel) Axis() Axis {
	return Axis(int(c) % 3)
}

// Joint is an entry in the skeleton arena. Parent and Children are indices
// into Motion.Joints.
type Joint struct {
	Name     string
	Parent   int
	Children []int
	Offset   mgl64.Vec3
	Channels []Channel
	// Columns holds the motion-table column for each entry of Channels.
	Columns []int
	// EndSite is set on synthesized terminal markers, which own no channels.
	EndSite bool
}

// Motion is a parsed skeleton together with its motion table. It is not
// modified after Parse returns.
type Motion struct {
	Root   int
	Joints []Joint

	// FrameCount is the value declared by the "Frames:" line.
	FrameCount int
	FrameTime  float64

	ChannelCount int
	Data         [][]float64
}

// Frames returns the number of frames that can be safely indexed: the smaller
// of the declared frame count and the number of parsed rows.
func (m *Motion) Frames() int {
	return min(m.FrameCount, len(m.Data))
}

// Duration returns Frames() * FrameTime in seconds.
func (m *Motion) Duration() float64 {
	return float64(m.Frames()) * m.FrameTime
}

// Row returns the channel values of frame f, or nil when f is out of range.
func (m *Motion) Row(f int) []float64 {
	if f < 0 || f >= m.Frames() {
		return nil
	}
	return m.Data[f]
}

// JointIndex returns the arena index of the named joint, or -1.
func (m *Motion) JointIndex(name string) int {
	for i := range m.Joints {
		if m.Joints[i].Name == name {
			return i
		}
	}
	return -1
}
