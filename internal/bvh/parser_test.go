package bvh

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const armBVH = `HIERARCHY
ROOT Hips
{
	OFFSET 0.0 0.0 0.0
	CHANNELS 6 Xposition Yposition Zposition Zrotation Xrotation Yrotation
	JOINT Spine
	{
		OFFSET 0.0 5.0 0.0
		CHANNELS 3 Zrotation Xrotation Yrotation
		End Site
		{
			OFFSET 0.0 3.0 0.0
		}
	}
	JOINT Leg
	{
		OFFSET 1.0 -4.0 0.0
		CHANNELS 1 Xrotation
	}
}
MOTION
Frames: 2
Frame Time: 0.033333
0 90 0 0 0 0 10 20 30 45
1 90 0 0 0 0 11 21 31 46
`

func newTestParser() *Parser {
	return NewParser(slog.Default())
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "motion.bvh")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewParser(t *testing.T) {
	require.NotNil(t, NewParser(nil))
}

func TestParse_Hierarchy(t *testing.T) {
	m, err := newTestParser().Parse(writeFile(t, armBVH))
	require.NoError(t, err)

	require.Len(t, m.Joints, 4)
	assert.Equal(t, 0, m.Root)

	names := make([]string, len(m.Joints))
	for i, j := range m.Joints {
		names[i] = j.Name
	}
	assert.Equal(t, []string{"Hips", "Spine", "Spine_end", "Leg"}, names)

	hips := m.Joints[0]
	assert.Equal(t, NoParent, hips.Parent)
	assert.Equal(t, []int{1, 3}, hips.Children)
	assert.Equal(t, []Channel{Xposition, Yposition, Zposition, Zrotation, Xrotation, Yrotation}, hips.Channels)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, hips.Columns)

	spine := m.Joints[1]
	assert.Equal(t, 0, spine.Parent)
	assert.Equal(t, mgl64.Vec3{0, 5, 0}, spine.Offset)
	assert.Equal(t, []int{6, 7, 8}, spine.Columns)

	end := m.Joints[2]
	assert.True(t, end.EndSite)
	assert.Equal(t, 1, end.Parent)
	assert.Empty(t, end.Channels)
	assert.Empty(t, end.Children)
	assert.Equal(t, mgl64.Vec3{0, 3, 0}, end.Offset)

	leg := m.Joints[3]
	assert.Equal(t, 0, leg.Parent)
	assert.Equal(t, []int{9}, leg.Columns)
}

func TestParse_ColumnsAreContiguous(t *testing.T) {
	m, err := newTestParser().ParseReader("arm", strings.NewReader(armBVH))
	require.NoError(t, err)

	var cols []int
	for _, j := range m.Joints {
		require.Len(t, j.Columns, len(j.Channels))
		cols = append(cols, j.Columns...)
	}
	require.Len(t, cols, m.ChannelCount)
	for i, c := range cols {
		assert.Equal(t, i, c)
	}
}

func TestParse_Motion(t *testing.T) {
	m, err := newTestParser().ParseReader("arm", strings.NewReader(armBVH))
	require.NoError(t, err)

	assert.Equal(t, 10, m.ChannelCount)
	assert.Equal(t, 2, m.FrameCount)
	assert.Equal(t, 2, m.Frames())
	assert.InDelta(t, 0.033333, m.FrameTime, 1e-9)
	assert.InDelta(t, 0.066666, m.Duration(), 1e-9)
	require.Len(t, m.Data, 2)
	assert.Equal(t, []float64{1, 90, 0, 0, 0, 0, 11, 21, 31, 46}, m.Row(1))
	assert.Nil(t, m.Row(2))
	assert.Nil(t, m.Row(-1))
	assert.Equal(t, 3, m.JointIndex("Leg"))
	assert.Equal(t, -1, m.JointIndex("Head"))
}

func TestParse_FrameCountMismatchUsesMinimum(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		want     int
	}{
		{"declared more than rows", "5", 2},
		{"declared fewer than rows", "1", 1},
		{"declared zero", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := strings.Replace(armBVH, "Frames: 2", "Frames: "+tt.declared, 1)
			m, err := newTestParser().ParseReader("arm", strings.NewReader(src))
			require.NoError(t, err)
			assert.Len(t, m.Data, 2)
			assert.Equal(t, tt.want, m.Frames())
		})
	}
}

func TestParse_NoMotionRows(t *testing.T) {
	src := strings.SplitAfter(armBVH, "Frame Time: 0.033333\n")[0]
	m, err := newTestParser().ParseReader("arm", strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Frames())
}

func TestParse_CRLFAndBlankLines(t *testing.T) {
	src := strings.ReplaceAll(armBVH, "\n", "\r\n\r\n")
	m, err := newTestParser().ParseReader("arm", strings.NewReader(src))
	require.NoError(t, err)
	assert.Len(t, m.Joints, 4)
	assert.Len(t, m.Data, 2)
}

func TestParse_MissingFile(t *testing.T) {
	m, err := newTestParser().Parse(filepath.Join(t.TempDir(), "missing.bvh"))
	assert.Nil(t, m)

	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantMsg string
	}{
		{
			name:    "missing frames line",
			mutate:  func(s string) string { return strings.Replace(s, "Frames: 2\n", "", 1) },
			wantMsg: "Frames:",
		},
		{
			name:    "missing frame time line",
			mutate:  func(s string) string { return strings.Replace(s, "Frame Time: 0.033333\n", "", 1) },
			wantMsg: "Frame Time:",
		},
		{
			name:    "non-numeric frame count",
			mutate:  func(s string) string { return strings.Replace(s, "Frames: 2", "Frames: two", 1) },
			wantMsg: "invalid frame count",
		},
		{
			name:    "non-numeric frame time",
			mutate:  func(s string) string { return strings.Replace(s, "Frame Time: 0.033333", "Frame Time: fast", 1) },
			wantMsg: "invalid frame time",
		},
		{
			name:    "non-numeric motion value",
			mutate:  func(s string) string { return strings.Replace(s, "1 90 0 0", "1 ninety 0 0", 1) },
			wantMsg: "invalid motion value",
		},
		{
			name:    "short motion row",
			mutate:  func(s string) string { return strings.Replace(s, "1 90 0 0 0 0 11 21 31 46", "1 90 0", 1) },
			wantMsg: "motion row has 3 value(s), want 10",
		},
		{
			name:    "unmatched closing brace",
			mutate:  func(s string) string { return strings.Replace(s, "MOTION", "}\nMOTION", 1) },
			wantMsg: "unbalanced closing brace",
		},
		{
			name:    "unterminated hierarchy",
			mutate:  func(s string) string { return strings.Replace(s, "}\nMOTION", "MOTION", 1) },
			wantMsg: "unterminated hierarchy",
		},
		{
			name:    "extra opening brace",
			mutate:  func(s string) string { return strings.Replace(s, "ROOT Hips\n{\n", "ROOT Hips\n{\n{\n", 1) },
			wantMsg: "unbalanced opening brace",
		},
		{
			name:    "missing opening brace",
			mutate:  func(s string) string { return strings.Replace(s, "JOINT Leg\n\t{\n", "JOINT Leg\n", 1) },
			wantMsg: `expected { after joint "Leg"`,
		},
		{
			name:    "missing root opening brace",
			mutate:  func(s string) string { return strings.Replace(s, "ROOT Hips\n{\n", "ROOT Hips\n", 1) },
			wantMsg: `expected { after joint "Hips"`,
		},
		{
			name:    "joint header without a body",
			mutate:  func(s string) string { return strings.Replace(s, "}\nMOTION", "\tJOINT Tail\n}\nMOTION", 1) },
			wantMsg: `expected { after joint "Tail"`,
		},
		{
			name:    "missing motion section",
			mutate:  func(s string) string { return strings.SplitAfter(s, "}\n}\n")[0] },
			wantMsg: "missing MOTION",
		},
		{
			name:    "bad offset",
			mutate:  func(s string) string { return strings.Replace(s, "OFFSET 0.0 5.0 0.0", "OFFSET 0.0 x 0.0", 1) },
			wantMsg: "invalid OFFSET component",
		},
		{
			name:    "short offset",
			mutate:  func(s string) string { return strings.Replace(s, "OFFSET 0.0 5.0 0.0", "OFFSET 0.0 5.0", 1) },
			wantMsg: "OFFSET needs 3 components",
		},
		{
			name:    "unknown channel",
			mutate:  func(s string) string { return strings.Replace(s, "CHANNELS 1 Xrotation", "CHANNELS 1 Wrotation", 1) },
			wantMsg: "invalid channel",
		},
		{
			name:    "channel count mismatch",
			mutate:  func(s string) string { return strings.Replace(s, "CHANNELS 1 Xrotation", "CHANNELS 2 Xrotation", 1) },
			wantMsg: "declares 2 channel(s) but lists 1",
		},
		{
			name:    "non-numeric channel count",
			mutate:  func(s string) string { return strings.Replace(s, "CHANNELS 1 Xrotation", "CHANNELS one Xrotation", 1) },
			wantMsg: "invalid channel count",
		},
		{
			name:    "second root",
			mutate:  func(s string) string { return strings.Replace(s, "MOTION", "ROOT Other\n{\n}\nMOTION", 1) },
			wantMsg: "multiple ROOT",
		},
		{
			name:    "joint without root",
			mutate:  func(s string) string { return strings.Replace(s, "ROOT Hips\n{", "JOINT Hips\n{", 1) },
			wantMsg: "JOINT outside",
		},
		{
			name:    "unknown keyword",
			mutate:  func(s string) string { return strings.Replace(s, "HIERARCHY", "HIERARCHY\nSCALE 2", 1) },
			wantMsg: `unexpected "SCALE"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := newTestParser().Parse(writeFile(t, tt.mutate(armBVH)))
			assert.Nil(t, m)

			var fe *FormatError
			require.ErrorAs(t, err, &fe)
			assert.Contains(t, fe.Error(), tt.wantMsg)
		})
	}
}

func TestFormatError_Error(t *testing.T) {
	err := &FormatError{Path: "a.bvh", Line: 12, Msg: "bad", Err: errors.New("cause")}
	assert.Equal(t, "bvh: a.bvh:12: bad: cause", err.Error())

	err = &FormatError{Path: "a.bvh", Msg: "bad"}
	assert.Equal(t, "bvh: a.bvh: bad", err.Error())
}

func TestParseChannel(t *testing.T) {
	for _, c := range []Channel{Xrotation, Yrotation, Zrotation, Xposition, Yposition, Zposition} {
		got, err := ParseChannel(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseChannel("xrotation")
	assert.Error(t, err)

	assert.True(t, Yrotation.IsRotation())
	assert.False(t, Yposition.IsRotation())
	assert.Equal(t, AxisZ, Zposition.Axis())
	assert.Equal(t, AxisX, Xrotation.Axis())
}
