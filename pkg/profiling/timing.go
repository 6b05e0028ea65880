// Package profiling times the phases of a claims command and optionally
// captures a CPU profile.
package profiling

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Stopper ends a timed phase.
type Stopper interface {
	Stop()
}

type phase struct {
	name     string
	depth    int
	start    time.Time
	duration time.Duration
	open     bool
}

// Recorder collects phases in start order. Phases started while another is
// open are nested under it.
type Recorder struct {
	mu     sync.Mutex
	now    func() time.Time
	begin  time.Time
	phases []*phase
	open   int
}

// NewRecorder starts a recorder at the current time.
func NewRecorder() *Recorder {
	return newRecorder(time.Now)
}

func newRecorder(now func() time.Time) *Recorder {
	return &Recorder{now: now, begin: now()}
}

// Start opens a phase. Stop it exactly once.
func (r *Recorder) Start(name string) Stopper {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &phase{name: name, depth: r.open, start: r.now(), open: true}
	r.phases = append(r.phases, p)
	r.open++
	return &stopper{r: r, p: p}
}

type stopper struct {
	r *Recorder
	p *phase
}

func (s *stopper) Stop() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if !s.p.open {
		return
	}
	s.p.open = false
	s.p.duration = s.r.now().Sub(s.p.start)
	if s.r.open > 0 {
		s.r.open--
	}
}

// Summarize writes one line per phase with its share of the total.
func (r *Recorder) Summarize(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.phases) == 0 {
		return
	}

	total := r.now().Sub(r.begin)
	fmt.Fprintln(w, "--- timing ---")
	for _, p := range r.phases {
		d := p.duration
		if p.open {
			d = r.now().Sub(p.start)
		}
		share := 0.0
		if total > 0 {
			share = float64(d) / float64(total) * 100
		}
		fmt.Fprintf(w, "%s- %s (%v, %.1f%%)\n", strings.Repeat("  ", p.depth), p.name, d.Round(100*time.Microsecond), share)
	}
	fmt.Fprintf(w, "total %v\n", total.Round(100*time.Microsecond))
}

type noop struct{}

func (noop) Stop() {}

var (
	activeMu sync.Mutex
	active   *Recorder
)

// Enable installs a process-wide recorder and returns it.
func Enable() *Recorder {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active == nil {
		active = NewRecorder()
	}
	return active
}

// Disable drops the process-wide recorder.
func Disable() {
	activeMu.Lock()
	active = nil
	activeMu.Unlock()
}

// Start opens a phase on the process-wide recorder, or does nothing when
// timing is off.
func Start(name string) Stopper {
	activeMu.Lock()
	r := active
	activeMu.Unlock()
	if r == nil {
		return noop{}
	}
	return r.Start(name)
}
