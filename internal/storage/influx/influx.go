// Package influxstorage implements storage.Backend by writing per-frame error
// series and summary points to InfluxDB.
package influxstorage

import (
	"context"
	"strconv"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mocapstudy/bvhcompare/internal/influx"
	"github.com/mocapstudy/bvhcompare/internal/storage"
)

const (
	// FrameMeasurement holds one point per compared frame.
	FrameMeasurement = "frame_error"
	// SummaryMeasurement holds one point per comparison.
	SummaryMeasurement = "mpjpe"
)

// Writer is the part of influx.Manager the backend needs.
type Writer interface {
	Connect(ctx context.Context) error
	WritePoints(ctx context.Context, points ...*influxdb2_write.Point) error
	Close() error
}

var _ Writer = (*influx.Manager)(nil)

// Backend writes comparison records as InfluxDB points.
type Backend struct {
	writer  Writer
	timeout time.Duration
}

// New creates a backend writing through w.
func New(w Writer) *Backend {
	return &Backend{writer: w, timeout: 10 * time.Second}
}

func (b *Backend) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	return b.writer.Connect(ctx)
}

func (b *Backend) Close() error {
	return b.writer.Close()
}

// RecordComparison writes the points for r. Failed comparisons are skipped.
func (b *Backend) RecordComparison(r *storage.Record) error {
	if r.Failed() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	return b.writer.WritePoints(ctx, Points(r)...)
}

// Points builds the frame_error series and the mpjpe summary for r. Frame f
// is stamped at ComputedAt + f × frame time, where frame time is
// Duration / NumFrames.
func Points(r *storage.Record) []*influxdb2_write.Point {
	tags := map[string]string{
		"label": r.Label,
		"left":  r.Left,
		"right": r.Right,
	}
	if r.Category != "" {
		tags["category"] = r.Category
		tags["pair"] = strconv.Itoa(r.Pair)
	}

	var frameTime time.Duration
	if r.Report.NumFrames > 0 {
		frameTime = time.Duration(r.Report.Duration / float64(r.Report.NumFrames) * float64(time.Second))
	}

	points := make([]*influxdb2_write.Point, 0, len(r.Report.FrameErrors)+1)
	for f, e := range r.Report.FrameErrors {
		points = append(points, influxdb2_write.NewPoint(
			FrameMeasurement,
			tags,
			map[string]any{"error": e, "frame": f},
			r.ComputedAt.Add(time.Duration(f)*frameTime),
		))
	}

	points = append(points, influxdb2_write.NewPoint(
		SummaryMeasurement,
		tags,
		map[string]any{
			"value":      r.Report.MPJPE,
			"min":        r.Report.MinError,
			"max":        r.Report.MaxError,
			"num_frames": r.Report.NumFrames,
			"num_joints": r.Report.NumJoints,
			"duration":   r.Report.Duration,
		},
		r.ComputedAt,
	))
	return points
}
