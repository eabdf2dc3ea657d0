package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logEntry struct {
	level string
	msg   string
}

// recordingLogger keeps every entry so tests can assert on what was logged.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *recordingLogger) snapshot() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logEntry(nil), l.entries...)
}

func setup(t *testing.T) (*Dispatcher, *recordingLogger) {
	t.Helper()
	rec := &recordingLogger{}
	d, err := New(rec)
	require.NoError(t, err)
	return d, rec
}

func noop(context.Context, Event) (any, error) { return nil, nil }

func TestDispatch_RunsHandler(t *testing.T) {
	d, _ := setup(t)

	var got Event
	d.Register("compare", func(_ context.Context, e Event) (any, error) {
		got = e
		return "result", nil
	})

	result, err := d.Dispatch(context.Background(), Event{Command: "compare", Args: []string{"a.bvh", "b.bvh"}})
	require.NoError(t, err)

	assert.Equal(t, "result", result)
	assert.Equal(t, []string{"a.bvh", "b.bvh"}, got.Args)
	assert.False(t, got.Timestamp.IsZero(), "timestamp filled in")
}

func TestDispatch_UnknownCommand(t *testing.T) {
	d, _ := setup(t)

	_, err := d.Dispatch(context.Background(), Event{Command: "render"})
	assert.ErrorContains(t, err, "render")
}

func TestDispatch_ArgsBounds(t *testing.T) {
	d, _ := setup(t)

	calls := 0
	d.Register("compare", func(context.Context, Event) (any, error) {
		calls++
		return nil, nil
	}, Args(2, 2), Usage("compare <a.bvh> <b.bvh>"))

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"too few", []string{"a.bvh"}, true},
		{"exact", []string{"a.bvh", "b.bvh"}, false},
		{"too many", []string{"a.bvh", "b.bvh", "c.bvh"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), Event{Command: "compare", Args: tt.args})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ae *ArgsError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, len(tt.args), ae.Got)
			assert.Contains(t, err.Error(), "compare <a.bvh> <b.bvh>")
		})
	}

	assert.Equal(t, 1, calls)
}

func TestDispatch_ArgsUnbounded(t *testing.T) {
	d, _ := setup(t)
	d.Register("selfcheck", noop, Args(0, -1))

	for _, n := range []int{0, 1, 5} {
		_, err := d.Dispatch(context.Background(), Event{Command: "selfcheck", Args: make([]string, n)})
		assert.NoError(t, err, "%d args", n)
	}
}

func TestArgsError_WithoutUsage(t *testing.T) {
	err := &ArgsError{Command: "inspect", Got: 3}
	assert.Equal(t, "inspect: wrong number of arguments (3)", err.Error())
}

func TestLogged_Success(t *testing.T) {
	d, rec := setup(t)
	d.Register("inspect", func(context.Context, Event) (any, error) { return "ok", nil }, Logged())

	_, err := d.Dispatch(context.Background(), Event{Command: "inspect", Args: []string{"a.bvh"}})
	require.NoError(t, err)

	assert.Equal(t, []logEntry{
		{"debug", "handling command"},
		{"debug", "command complete"},
	}, rec.snapshot())
}

func TestLogged_Failure(t *testing.T) {
	d, rec := setup(t)
	boom := errors.New("boom")
	d.Register("batch", func(context.Context, Event) (any, error) { return nil, boom }, Logged())

	_, err := d.Dispatch(context.Background(), Event{Command: "batch"})
	require.ErrorIs(t, err, boom)

	entries := rec.snapshot()
	require.NotEmpty(t, entries)
	assert.Equal(t, logEntry{"error", "command failed"}, entries[len(entries)-1])
}

func TestLogged_ArgsErrorIsLogged(t *testing.T) {
	d, rec := setup(t)
	d.Register("positions", noop, Args(1, 2), Logged())

	_, err := d.Dispatch(context.Background(), Event{Command: "positions"})
	require.Error(t, err)

	entries := rec.snapshot()
	require.NotEmpty(t, entries)
	assert.Equal(t, "error", entries[len(entries)-1].level)
}

func TestUnlogged_IsSilent(t *testing.T) {
	d, rec := setup(t)
	d.Register("compare", noop)

	_, err := d.Dispatch(context.Background(), Event{Command: "compare"})
	require.NoError(t, err)
	assert.Empty(t, rec.snapshot())
}

func TestHasHandler(t *testing.T) {
	d, _ := setup(t)
	d.Register("compare", noop)

	assert.True(t, d.HasHandler("compare"))
	assert.False(t, d.HasHandler("render"))
}

func TestCommandsAndUsage(t *testing.T) {
	d, _ := setup(t)
	d.Register("selfcheck", noop)
	d.Register("batch", noop, Usage("batch [category]"))
	d.Register("compare", noop)

	assert.Equal(t, []string{"batch", "compare", "selfcheck"}, d.Commands())
	assert.Equal(t, "batch [category]", d.Usage("batch"))
	assert.Empty(t, d.Usage("compare"))
}

func TestRegister_Replaces(t *testing.T) {
	d, _ := setup(t)
	d.Register("compare", func(context.Context, Event) (any, error) { return 1, nil })
	d.Register("compare", func(context.Context, Event) (any, error) { return 2, nil })

	result, err := d.Dispatch(context.Background(), Event{Command: "compare"})
	require.NoError(t, err)
	assert.Equal(t, 2, result)
}

func TestDispatch_ContextPassedThrough(t *testing.T) {
	d, _ := setup(t)

	type key struct{}
	d.Register("compare", func(ctx context.Context, _ Event) (any, error) {
		return ctx.Value(key{}), nil
	}, Logged(), Args(0, 0))

	ctx := context.WithValue(context.Background(), key{}, "value")
	result, err := d.Dispatch(ctx, Event{Command: "compare"})
	require.NoError(t, err)
	assert.Equal(t, "value", result)
}
