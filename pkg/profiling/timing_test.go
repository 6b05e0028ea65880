package profiling

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func steppingClock(step time.Duration) func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestRecorderNestsPhases(t *testing.T) {
	r := newRecorder(steppingClock(time.Millisecond))

	outer := r.Start("heal")
	inner := r.Start("store.query")
	inner.Stop()
	outer.Stop()
	r.Start("report").Stop()

	var buf bytes.Buffer
	r.Summarize(&buf)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")

	assert.Equal(t, "--- timing ---", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "- heal ("))
	assert.True(t, strings.HasPrefix(lines[2], "  - store.query (1ms"))
	assert.True(t, strings.HasPrefix(lines[3], "- report (1ms"))
	assert.True(t, strings.HasPrefix(lines[4], "total "))
}

func TestStopIsIdempotent(t *testing.T) {
	r := newRecorder(steppingClock(time.Millisecond))
	s := r.Start("a")
	s.Stop()
	s.Stop()

	next := r.Start("b")
	next.Stop()
	assert.Equal(t, 0, r.phases[1].depth)
}

func TestStartWithoutRecorderIsNoop(t *testing.T) {
	Disable()
	s := Start("anything")
	assert.IsType(t, noop{}, s)
	s.Stop()
}

func TestEnableReturnsSameRecorder(t *testing.T) {
	t.Cleanup(Disable)
	a := Enable()
	assert.Same(t, a, Enable())

	Start("triangulate").Stop()
	var buf bytes.Buffer
	a.Summarize(&buf)
	assert.Contains(t, buf.String(), "- triangulate (")
}

func TestSummarizeEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewRecorder().Summarize(&buf)
	assert.Empty(t, buf.String())
}
