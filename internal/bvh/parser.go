package bvh

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// maxLineSize bounds a single motion row. Dense skeletons at high frame rates
// produce rows of several hundred kilobytes.
const maxLineSize = 64 << 20

// Parser converts motion files into Motion values.
// It has no dependencies beyond a logger and keeps no state between calls.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser that reports non-fatal anomalies to logger.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse reads the file at path with a default parser.
func Parse(path string) (*Motion, error) {
	return NewParser(nil).Parse(path)
}

// Parse reads and parses the file at path.
func (p *Parser) Parse(path string) (*Motion, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FormatError{Path: path, Msg: "cannot open file", Err: err}
	}
	defer func() { _ = f.Close() }()

	return p.ParseReader(path, f)
}

// ParseReader parses motion data from r. name is only used in errors and logs.
func (p *Parser) ParseReader(name string, r io.Reader) (*Motion, error) {
	st := &parseState{
		path:   name,
		motion: &Motion{Root: NoParent},
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	inMotion := false
	for sc.Scan() {
		st.line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		var err error
		if inMotion {
			err = st.motionLine(text)
		} else {
			inMotion, err = st.hierarchyLine(text)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, st.fail(err, "read failed")
	}

	st.line = 0
	if !inMotion {
		return nil, st.fail(nil, "missing MOTION section")
	}
	if !st.haveFrames {
		return nil, st.fail(nil, "missing Frames: line")
	}
	if !st.haveFrameTime {
		return nil, st.fail(nil, "missing Frame Time: line")
	}

	m := st.motion
	if m.FrameCount != len(m.Data) {
		p.logger.Warn("Declared frame count differs from motion rows",
			"path", name,
			"declared", m.FrameCount,
			"rows", len(m.Data))
	}

	p.logger.Debug("Parsed motion",
		"path", name,
		"joints", len(m.Joints),
		"channels", m.ChannelCount,
		"frames", m.Frames(),
		"frameTime", m.FrameTime)

	return m, nil
}

// parseState carries the open-joint stack and the running channel-column
// counter through a single parse.
type parseState struct {
	path   string
	line   int
	motion *Motion

	stack      []int
	nextColumn int

	// depth counts open braces. Every joint header must be followed by
	// exactly one "{", so depth tracks len(stack) once the brace is seen.
	depth        int
	awaitingOpen bool

	haveFrames    bool
	haveFrameTime bool
	inData        bool
}

func (st *parseState) fail(err error, format string, args ...any) *FormatError {
	return &FormatError{
		Path: st.path,
		Line: st.line,
		Msg:  fmt.Sprintf(format, args...),
		Err:  err,
	}
}

func (st *parseState) top() (int, bool) {
	if len(st.stack) == 0 {
		return 0, false
	}
	return st.stack[len(st.stack)-1], true
}

// hierarchyLine handles one line before the MOTION keyword and reports whether
// the keyword has been reached.
func (st *parseState) hierarchyLine(text string) (bool, error) {
	fields := strings.Fields(text)
	m := st.motion

	if st.awaitingOpen && fields[0] != "{" {
		idx, _ := st.top()
		return false, st.fail(nil, "expected { after joint %q", m.Joints[idx].Name)
	}

	switch fields[0] {
	case "HIERARCHY":
		return false, nil

	case "{":
		if !st.awaitingOpen {
			return false, st.fail(nil, "unbalanced opening brace")
		}
		st.awaitingOpen = false
		st.depth++
		return false, nil

	case "ROOT":
		if m.Root != NoParent {
			return false, st.fail(nil, "multiple ROOT joints")
		}
		if len(fields) < 2 {
			return false, st.fail(nil, "ROOT without a name")
		}
		m.Root = st.push(strings.Join(fields[1:], " "), false)
		return false, nil

	case "JOINT":
		if _, ok := st.top(); !ok {
			return false, st.fail(nil, "JOINT outside of an open joint")
		}
		if len(fields) < 2 {
			return false, st.fail(nil, "JOINT without a name")
		}
		st.push(strings.Join(fields[1:], " "), false)
		return false, nil

	case "End":
		parent, ok := st.top()
		if !ok {
			return false, st.fail(nil, "End Site outside of an open joint")
		}
		if len(fields) != 2 || fields[1] != "Site" {
			return false, st.fail(nil, "unexpected %q", text)
		}
		st.push(m.Joints[parent].Name+EndSiteSuffix, true)
		return false, nil

	case "OFFSET":
		idx, ok := st.top()
		if !ok {
			return false, st.fail(nil, "OFFSET outside of an open joint")
		}
		if len(fields) != 4 {
			return false, st.fail(nil, "OFFSET needs 3 components, got %d", len(fields)-1)
		}
		var offset mgl64.Vec3
		for i := range offset {
			v, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return false, st.fail(err, "invalid OFFSET component %q", fields[i+1])
			}
			offset[i] = v
		}
		m.Joints[idx].Offset = offset
		return false, nil

	case "CHANNELS":
		idx, ok := st.top()
		if !ok {
			return false, st.fail(nil, "CHANNELS outside of an open joint")
		}
		return false, st.channels(idx, fields)

	case "}":
		if st.depth == 0 || len(st.stack) == 0 {
			return false, st.fail(nil, "unbalanced closing brace")
		}
		st.depth--
		st.stack = st.stack[:len(st.stack)-1]
		return false, nil

	case "MOTION":
		if m.Root == NoParent {
			return false, st.fail(nil, "no ROOT joint before MOTION")
		}
		if st.depth > 0 || len(st.stack) > 0 {
			return false, st.fail(nil, "unterminated hierarchy: %d joint(s) still open", len(st.stack))
		}
		m.ChannelCount = st.nextColumn
		return true, nil
	}

	return false, st.fail(nil, "unexpected %q", fields[0])
}

// push appends a joint to the arena, links it to the open parent and opens it.
func (st *parseState) push(name string, endSite bool) int {
	m := st.motion
	idx := len(m.Joints)
	j := Joint{Name: name, Parent: NoParent, EndSite: endSite}
	if parent, ok := st.top(); ok {
		j.Parent = parent
		m.Joints[parent].Children = append(m.Joints[parent].Children, idx)
	}
	m.Joints = append(m.Joints, j)
	st.stack = append(st.stack, idx)
	st.awaitingOpen = true
	return idx
}

func (st *parseState) channels(idx int, fields []string) error {
	j := &st.motion.Joints[idx]
	if j.EndSite {
		return st.fail(nil, "End Site cannot declare channels")
	}
	if j.Channels != nil {
		return st.fail(nil, "joint %q declares CHANNELS twice", j.Name)
	}
	if len(fields) < 2 {
		return st.fail(nil, "CHANNELS without a count")
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return st.fail(err, "invalid channel count %q", fields[1])
	}
	if len(fields)-2 != n {
		return st.fail(nil, "CHANNELS declares %d channel(s) but lists %d", n, len(fields)-2)
	}

	j.Channels = make([]Channel, n)
	j.Columns = make([]int, n)
	for i, tok := range fields[2:] {
		ch, err := ParseChannel(tok)
		if err != nil {
			return st.fail(err, "invalid channel")
		}
		j.Channels[i] = ch
		j.Columns[i] = st.nextColumn + i
	}
	st.nextColumn += n
	return nil
}

// motionLine handles one non-blank line after the MOTION keyword.
func (st *parseState) motionLine(text string) error {
	m := st.motion

	if !st.inData {
		if rest, ok := strings.CutPrefix(text, "Frames:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil || n < 0 {
				return st.fail(err, "invalid frame count %q", strings.TrimSpace(rest))
			}
			m.FrameCount = n
			st.haveFrames = true
			return nil
		}
		if rest, ok := strings.CutPrefix(text, "Frame Time:"); ok {
			v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
			if err != nil || v < 0 {
				return st.fail(err, "invalid frame time %q", strings.TrimSpace(rest))
			}
			m.FrameTime = v
			st.haveFrameTime = true
			return nil
		}
		if !st.haveFrames {
			return st.fail(nil, "missing Frames: line before motion data")
		}
		if !st.haveFrameTime {
			return st.fail(nil, "missing Frame Time: line before motion data")
		}
		st.inData = true
	}

	fields := strings.Fields(text)
	if len(fields) != m.ChannelCount {
		return st.fail(nil, "motion row has %d value(s), want %d", len(fields), m.ChannelCount)
	}
	row := make([]float64, len(fields))
	for i, tok := range fields {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return st.fail(err, "invalid motion value %q", tok)
		}
		row[i] = v
	}
	m.Data = append(m.Data, row)
	return nil
}
