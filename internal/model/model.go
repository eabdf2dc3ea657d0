// Package model holds the GORM tables comparison results are stored in.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mocapstudy/bvhcompare/internal/metric"
	"github.com/mocapstudy/bvhcompare/internal/storage"
)

// DatabaseModels is the list of tables migrated on startup.
var DatabaseModels = []any{
	&StudyInfo{},
	&Comparison{},
}

// StudyInfo describes the study a database belongs to. One row is created
// when the schema is first set up.
type StudyInfo struct {
	gorm.Model
	Name        string `json:"name" gorm:"size:127"`
	Description string `json:"description" gorm:"size:255"`
}

func (*StudyInfo) TableName() string {
	return "study_infos"
}

// Comparison is one MPJPE comparison between two motion files.
type Comparison struct {
	ID         uint      `json:"id" gorm:"primarykey;autoIncrement"`
	CreatedAt  time.Time `json:"createdAt"`
	ComputedAt time.Time `json:"computedAt" gorm:"index:idx_comparison_computed_at"`

	Label     string `json:"label" gorm:"size:511"`
	Category  string `json:"category" gorm:"size:32;index:idx_comparison_category"`
	PairIndex int    `json:"pairIndex"`
	LeftPath  string `json:"leftPath" gorm:"size:1024"`
	RightPath string `json:"rightPath" gorm:"size:1024"`

	MPJPE     float64 `json:"mpjpe"`
	MinError  float64 `json:"minError"`
	MaxError  float64 `json:"maxError"`
	NumFrames int     `json:"numFrames"`
	NumJoints int     `json:"numJoints"`
	Duration  float64 `json:"duration"`

	// FrameErrors is the per-frame error series as a JSON array.
	FrameErrors datatypes.JSON `json:"frameErrors"`
	Error       string         `json:"error" gorm:"size:2047"`
}

func (*Comparison) TableName() string {
	return "comparisons"
}

// NewComparison converts a storage record to its table row.
func NewComparison(r *storage.Record) (Comparison, error) {
	frameErrors := r.Report.FrameErrors
	if frameErrors == nil {
		frameErrors = []float64{}
	}
	raw, err := json.Marshal(frameErrors)
	if err != nil {
		return Comparison{}, fmt.Errorf("failed to encode frame errors: %w", err)
	}

	return Comparison{
		ComputedAt:  r.ComputedAt,
		Label:       r.Label,
		Category:    r.Category,
		PairIndex:   r.Pair,
		LeftPath:    r.Left,
		RightPath:   r.Right,
		MPJPE:       r.Report.MPJPE,
		MinError:    r.Report.MinError,
		MaxError:    r.Report.MaxError,
		NumFrames:   r.Report.NumFrames,
		NumJoints:   r.Report.NumJoints,
		Duration:    r.Report.Duration,
		FrameErrors: datatypes.JSON(raw),
		Error:       r.Error,
	}, nil
}

// Record converts the row back to a storage record.
func (c *Comparison) Record() (storage.Record, error) {
	var frameErrors []float64
	if len(c.FrameErrors) > 0 {
		if err := json.Unmarshal(c.FrameErrors, &frameErrors); err != nil {
			return storage.Record{}, fmt.Errorf("failed to decode frame errors of comparison %d: %w", c.ID, err)
		}
	}

	return storage.Record{
		Label:    c.Label,
		Category: c.Category,
		Pair:     c.PairIndex,
		Left:     c.LeftPath,
		Right:    c.RightPath,
		Report: metric.Report{
			MPJPE:       c.MPJPE,
			FrameErrors: frameErrors,
			NumFrames:   c.NumFrames,
			NumJoints:   c.NumJoints,
			MinError:    c.MinError,
			MaxError:    c.MaxError,
			Duration:    c.Duration,
		},
		Error:      c.Error,
		ComputedAt: c.ComputedAt,
	}, nil
}
