package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// recorder keeps every record it handles.
type recorder struct {
	level   slog.Level
	err     error
	records []slog.Record
}

func (r *recorder) Enabled(_ context.Context, l slog.Level) bool { return l >= r.level }

func (r *recorder) Handle(_ context.Context, rec slog.Record) error {
	r.records = append(r.records, rec)
	return r.err
}

func (r *recorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *recorder) WithGroup(string) slog.Handler      { return r }

func TestMultiHandler_DeliversToEnabledHandlers(t *testing.T) {
	debug := &recorder{level: slog.LevelDebug}
	warn := &recorder{level: slog.LevelWarn}
	logger := slog.New(NewMultiHandler(debug, nil, warn))

	logger.Debug("d")
	logger.Warn("w")

	assert.Len(t, debug.records, 2)
	require.Len(t, warn.records, 1)
	assert.Equal(t, "w", warn.records[0].Message)
}

func TestMultiHandler_Enabled(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		handlers []slog.Handler
		level    slog.Level
		want     bool
	}{
		{"none", nil, slog.LevelError, false},
		{"only nil", []slog.Handler{nil}, slog.LevelError, false},
		{"below all", []slog.Handler{&recorder{level: slog.LevelInfo}}, slog.LevelDebug, false},
		{"any enables", []slog.Handler{&recorder{level: slog.LevelError}, &recorder{level: slog.LevelDebug}}, slog.LevelDebug, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewMultiHandler(tt.handlers...).Enabled(ctx, tt.level))
		})
	}
}

func TestMultiHandler_ErrorsAreJoined(t *testing.T) {
	failA := &recorder{err: errors.New("a down")}
	ok := &recorder{}
	failB := &recorder{err: errors.New("b down")}
	h := NewMultiHandler(failA, ok, failB)

	err := h.Handle(context.Background(), slog.NewRecord(testTime, slog.LevelInfo, "x", 0))

	require.Error(t, err)
	assert.ErrorContains(t, err, "a down")
	assert.ErrorContains(t, err, "b down")
	assert.Len(t, ok.records, 1)
}

func TestMultiHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	base := NewMultiHandler(slog.NewTextHandler(&buf, nil))

	assert.Same(t, base, base.WithGroup(""))

	logger := slog.New(base.WithAttrs([]slog.Attr{slog.String("component", "worker")}).WithGroup("job"))
	logger.Info("run", "label", "x")

	assert.Contains(t, buf.String(), "component=worker")
	assert.Contains(t, buf.String(), "job.label=x")
}

func TestContextHandler_NoAttrsPassesThrough(t *testing.T) {
	rec := &recorder{}
	h := NewContextHandler(rec)

	require.NoError(t, h.Handle(context.Background(), slog.NewRecord(testTime, slog.LevelInfo, "plain", 0)))
	require.Len(t, rec.records, 1)
	assert.Equal(t, 0, rec.records[0].NumAttrs())
}

func TestWithAttrs_DoesNotMutateParent(t *testing.T) {
	parent := WithAttrs(context.Background(), slog.String("a", "1"))
	_ = WithAttrs(parent, slog.String("b", "2"))

	assert.Len(t, attrsFrom(parent), 1)
}
