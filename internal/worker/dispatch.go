package worker

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mocapstudy/bvhcompare/internal/bvh"
	"github.com/mocapstudy/bvhcompare/internal/database"
	"github.com/mocapstudy/bvhcompare/internal/dispatcher"
	"github.com/mocapstudy/bvhcompare/internal/kinematics"
	"github.com/mocapstudy/bvhcompare/internal/storage"
	gormstorage "github.com/mocapstudy/bvhcompare/internal/storage/gorm"
	"github.com/mocapstudy/bvhcompare/internal/study"
	"github.com/mocapstudy/bvhcompare/internal/util"
)

// ErrSelfCheckFailed is returned by selfcheck when any file fails.
var ErrSelfCheckFailed = errors.New("self-check failed")

// RegisterHandlers registers the CLI commands with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register("compare", m.handleCompare,
		dispatcher.Args(2, 2), dispatcher.Usage("compare <a.bvh> <b.bvh>"), dispatcher.Logged())
	d.Register("inspect", m.handleInspect,
		dispatcher.Args(1, 1), dispatcher.Usage("inspect <file.bvh>"), dispatcher.Logged())
	d.Register("positions", m.handlePositions,
		dispatcher.Args(1, 3), dispatcher.Usage("positions <file.bvh> [out.csv|dir|-] [joint,...]"), dispatcher.Logged())
	d.Register("batch", m.handleBatch,
		dispatcher.Args(0, 1), dispatcher.Usage("batch [motion-dir]"), dispatcher.Logged())
	d.Register("selfcheck", m.handleSelfCheck,
		dispatcher.Args(0, 1), dispatcher.Usage("selfcheck [motion-dir]"), dispatcher.Logged())
	d.Register("history", m.handleHistory,
		dispatcher.Args(1, 1), dispatcher.Usage("history <results.db>"), dispatcher.Logged())
}

func (m *Manager) motionDir(e dispatcher.Event) string {
	if len(e.Args) > 0 && e.Args[0] != "" {
		return e.Args[0]
	}
	return m.deps.MotionDir
}

func (m *Manager) writeJSON(v any) error {
	enc := json.NewEncoder(m.deps.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (m *Manager) handleCompare(ctx context.Context, e dispatcher.Event) (any, error) {
	rec, err := m.runJob(ctx, Job{
		Label: fmt.Sprintf("%s vs %s", filepath.Base(e.Args[0]), filepath.Base(e.Args[1])),
		Left:  e.Args[0],
		Right: e.Args[1],
	})
	if err != nil {
		return rec, err
	}
	return rec, m.writeJSON(rec)
}

// JointInfo describes one joint for inspect.
type JointInfo struct {
	Index    int      `json:"index"`
	Name     string   `json:"name"`
	Parent   string   `json:"parent,omitempty"`
	Channels []string `json:"channels,omitempty"`
	EndSite  bool     `json:"end_site,omitempty"`
}

// Inspection summarizes a parsed motion file.
type Inspection struct {
	Path           string      `json:"path"`
	Joints         []JointInfo `json:"joints"`
	ChannelCount   int         `json:"channel_count"`
	DeclaredFrames int         `json:"declared_frames"`
	Frames         int         `json:"frames"`
	FrameTime      float64     `json:"frame_time"`
	Duration       float64     `json:"duration"`
}

// Inspect builds the summary of m.
func Inspect(path string, m *bvh.Motion) Inspection {
	out := Inspection{
		Path:           path,
		Joints:         make([]JointInfo, len(m.Joints)),
		ChannelCount:   m.ChannelCount,
		DeclaredFrames: m.FrameCount,
		Frames:         m.Frames(),
		FrameTime:      m.FrameTime,
		Duration:       m.Duration(),
	}
	for i := range m.Joints {
		j := &m.Joints[i]
		info := JointInfo{Index: i, Name: j.Name, EndSite: j.EndSite}
		if j.Parent != bvh.NoParent {
			info.Parent = m.Joints[j.Parent].Name
		}
		for _, c := range j.Channels {
			info.Channels = append(info.Channels, c.String())
		}
		out.Joints[i] = info
	}
	return out
}

func (m *Manager) handleInspect(_ context.Context, e dispatcher.Event) (any, error) {
	motion, err := m.deps.Parser.Parse(e.Args[0])
	if err != nil {
		return nil, err
	}
	info := Inspect(e.Args[0], motion)
	return info, m.writeJSON(info)
}

// SelectJoints resolves joint names to arena indices in the order given. No
// names selects every joint.
func SelectJoints(m *bvh.Motion, names []string) ([]int, error) {
	if len(names) == 0 {
		all := make([]int, len(m.Joints))
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	out := make([]int, 0, len(names))
	for _, name := range names {
		idx := m.JointIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("unknown joint %q", name)
		}
		out = append(out, idx)
	}
	return out, nil
}

// WritePositionsCSV writes one row per frame: frame index, time, then x, y, z
// of each selected joint. joints holds arena indices, see SelectJoints.
func WritePositionsCSV(w io.Writer, m *bvh.Motion, joints []int) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, 2+3*len(joints))
	header = append(header, "frame", "time")
	for _, j := range joints {
		name := m.Joints[j].Name
		header = append(header, name+".x", name+".y", name+".z")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for f, positions := range kinematics.Sequence(m) {
		row[0] = strconv.Itoa(f)
		row[1] = strconv.FormatFloat(float64(f)*m.FrameTime, 'f', -1, 64)
		for c, j := range joints {
			for k := 0; k < 3; k++ {
				row[2+3*c+k] = strconv.FormatFloat(positions[j][k], 'f', -1, 64)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// positionsTarget resolves the output of positions: stdout when out is empty
// or "-", a derived file name when out is a directory, out itself otherwise.
func positionsTarget(motionPath, out string) string {
	if out == "" || out == "-" {
		return ""
	}
	if fi, err := os.Stat(out); err == nil && fi.IsDir() {
		return filepath.Join(out, util.PositionsFileName(motionPath))
	}
	return out
}

func (m *Manager) handlePositions(_ context.Context, e dispatcher.Event) (any, error) {
	motion, err := m.deps.Parser.Parse(e.Args[0])
	if err != nil {
		return nil, err
	}

	var out string
	if len(e.Args) > 1 {
		out = e.Args[1]
	}
	var names []string
	if len(e.Args) > 2 {
		for _, name := range strings.Split(e.Args[2], ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	joints, err := SelectJoints(motion, names)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Args[0], err)
	}

	target := positionsTarget(e.Args[0], out)
	if target == "" {
		return motion.Frames(), WritePositionsCSV(m.deps.Out, motion, joints)
	}

	f, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("failed to create positions file: %w", err)
	}
	if err := WritePositionsCSV(f, motion, joints); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write positions: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	m.deps.LogManager.Logger().Info("Wrote positions", "path", target, "frames", motion.Frames())
	return target, nil
}

// BatchSummary is the result of the batch command.
type BatchSummary struct {
	Records []storage.Record `json:"-"`
	Total   int              `json:"total"`
	Failed  int              `json:"failed"`
}

// batchLine is one output line of the batch command.
type batchLine struct {
	Category  string  `json:"category"`
	Pair      int     `json:"pair"`
	Left      string  `json:"left"`
	Right     string  `json:"right"`
	MPJPE     float64 `json:"mpjpe"`
	NumFrames int     `json:"frames"`
	NumJoints int     `json:"joints"`
	Error     string  `json:"error,omitempty"`
}

func (m *Manager) handleBatch(ctx context.Context, e dispatcher.Event) (any, error) {
	dir := m.motionDir(e)
	pairs := study.AllPairs()
	jobs := make([]Job, len(pairs))
	for i, p := range pairs {
		jobs[i] = PairJob(p, dir)
	}

	records := m.Run(ctx, jobs)

	summary := BatchSummary{Records: records, Total: len(records)}
	enc := json.NewEncoder(m.deps.Out)
	for i, r := range records {
		if r.Failed() {
			summary.Failed++
		}
		line := lineFor(r)
		line.Left, line.Right = pairs[i].Left, pairs[i].Right
		if err := enc.Encode(line); err != nil {
			return summary, err
		}
	}

	m.deps.LogManager.Logger().Info("Batch complete", "total", summary.Total, "failed", summary.Failed)
	return summary, ctx.Err()
}

func lineFor(r storage.Record) batchLine {
	return batchLine{
		Category:  r.Category,
		Pair:      r.Pair,
		Left:      r.Left,
		Right:     r.Right,
		MPJPE:     r.Report.MPJPE,
		NumFrames: r.Report.NumFrames,
		NumJoints: r.Report.NumJoints,
		Error:     r.Error,
	}
}

// handleHistory prints the comparisons stored in a SQLite results file, one
// JSON line each, in the order they were written.
func (m *Manager) handleHistory(_ context.Context, e dispatcher.Event) (any, error) {
	path := e.Args[0]
	// opening a missing path would create an empty database
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("results database: %w", err)
	}

	db := database.NewManager(m.deps.DBLogger)
	if err := db.ConnectSqlite(path); err != nil {
		return nil, err
	}
	defer db.Close()

	records, err := gormstorage.New(gormstorage.Dependencies{DB: db, LogManager: m.deps.LogManager}).Comparisons()
	if err != nil {
		return nil, err
	}

	enc := json.NewEncoder(m.deps.Out)
	for _, r := range records {
		if err := enc.Encode(lineFor(r)); err != nil {
			return records, err
		}
	}
	return records, nil
}

// SelfCheckResult is the outcome for one file compared with itself.
type SelfCheckResult struct {
	File      string  `json:"file"`
	MPJPE     float64 `json:"mpjpe"`
	MaxError  float64 `json:"max_error"`
	NumFrames int     `json:"num_frames"`
	NumJoints int     `json:"num_joints"`
	Pass      bool    `json:"pass"`
	Error     string  `json:"error,omitempty"`
}

func (m *Manager) handleSelfCheck(ctx context.Context, e dispatcher.Event) (any, error) {
	dir := m.motionDir(e)
	jobs := make([]Job, len(study.SelfCheckFiles))
	for i, name := range study.SelfCheckFiles {
		path := filepath.Join(dir, name)
		jobs[i] = Job{Label: name + " vs itself", Left: path, Right: path}
	}

	results := make([]SelfCheckResult, len(jobs))
	failed := 0
	for i, r := range m.Run(ctx, jobs) {
		res := SelfCheckResult{
			File:      study.SelfCheckFiles[i],
			MPJPE:     r.Report.MPJPE,
			MaxError:  r.Report.MaxError,
			NumFrames: r.Report.NumFrames,
			NumJoints: r.Report.NumJoints,
			Error:     r.Error,
		}
		res.Pass = !r.Failed() && r.Report.Comparable() && r.Report.MPJPE < study.SelfCheckTolerance
		if !res.Pass {
			failed++
		}
		results[i] = res

		status := "PASS"
		if !res.Pass {
			status = "FAIL"
		}
		if res.Error != "" {
			fmt.Fprintf(m.deps.Out, "%s %s: %s\n", status, res.File, res.Error)
		} else {
			fmt.Fprintf(m.deps.Out, "%s %s mpjpe=%.10f max=%.10f frames=%d joints=%d\n",
				status, res.File, res.MPJPE, res.MaxError, res.NumFrames, res.NumJoints)
		}
	}

	if failed > 0 {
		return results, fmt.Errorf("%w: %d of %d file(s)", ErrSelfCheckFailed, failed, len(results))
	}
	return results, nil
}
