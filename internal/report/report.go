// Package report renders triangulation, self-heal and guard results for
// people, or as indented JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/claims/internal/guard"
	"github.com/grovetools/claims/internal/heal"
	"github.com/grovetools/claims/internal/registry"
	"github.com/grovetools/claims/internal/store"
	"github.com/grovetools/claims/internal/triangulate"
)

// Formatter writes human-readable reports.
type Formatter struct {
	w      io.Writer
	styles Styles
}

// New creates a Formatter writing to w.
func New(w io.Writer, color bool) *Formatter {
	return &Formatter{w: w, styles: newStyles(newRenderer(w, color))}
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RenderTriangulation writes the four buckets, each with its count, and a
// summary line.
func (f *Formatter) RenderTriangulation(res *triangulate.Result) {
	title := "Claim health"
	if res.Scope != "" {
		title += " for " + res.Scope
	}
	fmt.Fprintln(f.w, f.styles.Header.Render(title))

	if len(res.Degraded) > 0 {
		fmt.Fprintln(f.w, f.styles.Warning.Render(
			"⚠ degraded: no signal from "+strings.Join(res.Degraded, ", ")))
	}
	if len(res.Truncated) > 0 {
		fmt.Fprintln(f.w, f.styles.Warning.Render(
			"⚠ truncated: row cap reached for "+strings.Join(res.Truncated, ", ")+"; some keys are missing"))
	}

	f.section("HEALTHY", f.styles.Healthy, res.Healthy)
	f.section("GHOST", f.styles.Ghost, res.Ghost)
	f.section("ORPHANED", f.styles.Orphaned, res.Orphaned)
	f.section("DISCREPANCIES", f.styles.Discrepancy, res.Discrepancies)

	s := res.Summary
	fmt.Fprintf(f.w, "\nSummary: total=%d healthy=%d orphaned=%d ghost=%d discrepancy=%d\n",
		s.Total, s.Healthy, s.Orphaned, s.Ghost, s.Discrepancy)
}

func (f *Formatter) section(label string, style lipgloss.Style, entries []triangulate.Entry) {
	fmt.Fprintf(f.w, "\n%s %s\n", style.Render(label), f.styles.Muted.Render(fmt.Sprintf("(%d)", len(entries))))
	if len(entries) == 0 {
		fmt.Fprintln(f.w, f.styles.Muted.Render("  none"))
		return
	}
	for _, e := range entries {
		head := "  " + f.styles.Key.Render(e.WorkKey)
		if e.Kind != "" {
			head += " " + style.Render(string(e.Kind))
		}
		if e.AutoReleasable {
			head += " " + f.styles.Muted.Render("[auto-release]")
		}
		fmt.Fprintln(f.w, head)

		if e.SessionID != "" {
			line := "session " + e.SessionID
			if e.PID > 0 {
				line += fmt.Sprintf(" pid %d", e.PID)
			}
			if e.Hostname != "" {
				line += " on " + e.Hostname
			}
			line += ", heartbeat " + age(e.HeartbeatAgeSeconds) + " ago"
			f.detail(line)
		}
		if e.WorktreePath != "" {
			f.detail("worktree " + e.WorktreePath)
		}
		f.detail("evidence: " + strings.Join(e.Evidence, ", "))
		if e.Category != triangulate.CategoryHealthy {
			f.detail("action: " + e.RecommendedAction)
		}
	}
}

func (f *Formatter) detail(text string) {
	fmt.Fprintln(f.w, "    "+f.styles.Muted.Render(text))
}

func age(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

// RenderHeal writes the outcome of one self-heal pass.
func (f *Formatter) RenderHeal(res *heal.Result) {
	title := "Self-heal"
	if res.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(f.w, f.styles.Header.Render(title))

	for _, c := range res.Released {
		fmt.Fprintf(f.w, "  %s released %s (%s, pid %d)\n",
			f.styles.Healthy.Render("✓"), c.SessionID, c.WorkKey, c.PID)
	}
	for _, msg := range res.Advisories {
		fmt.Fprintf(f.w, "  %s %s\n", f.styles.Warning.Render("→"), msg)
	}
	for _, c := range res.Orphans {
		fmt.Fprintf(f.w, "  %s %s (%s) is stale on %s; left for orphan detection\n",
			f.styles.Orphaned.Render("?"), c.SessionID, c.WorkKey, c.Hostname)
	}
	for _, s := range res.Skipped {
		f.detail(fmt.Sprintf("skipped %s (%s): %s", s.SessionID, s.WorkKey, s.Reason))
	}
	for _, e := range res.Errors {
		target := e.SessionID
		if target == "" {
			target = "candidate query"
		}
		fmt.Fprintf(f.w, "  %s %s: %s\n", f.styles.Ghost.Render("✗"), target, e.Error)
	}
	if len(res.Deferred) > 0 {
		fmt.Fprintln(f.w, f.styles.Warning.Render(
			fmt.Sprintf("  ⚠ budget exceeded; %d candidates deferred to the next pass", len(res.Deferred))))
	}

	fmt.Fprintf(f.w, "\nreleased=%d advisories=%d orphans=%d skipped=%d errors=%d deferred=%d elapsed=%s\n",
		len(res.Released), len(res.Advisories), len(res.Orphans), len(res.Skipped),
		len(res.Errors), len(res.Deferred), res.Elapsed.Round(time.Millisecond))
}

// RenderDecision writes a collision guard decision.
func (f *Formatter) RenderDecision(d guard.ClaimDecision) {
	verdict := f.styles.Healthy.Render("reuse existing session")
	if d.ShouldCreateNew {
		verdict = f.styles.Orphaned.Render("create a new session")
	}
	fmt.Fprintf(f.w, "%s %s\n", f.styles.Header.Render("Decision:"), verdict)
	f.detail("reason: " + string(d.Reason))
	if d.ExistingSessionID != "" {
		f.detail(fmt.Sprintf("existing session %s holds %s", d.ExistingSessionID, d.ClaimedSD))
	}
}

// RenderRegistration writes the outcome of a registration.
func (f *Formatter) RenderRegistration(reg *registry.Registration) {
	verb := "Created"
	if reg.Reused {
		verb = "Reused"
	}
	fmt.Fprintf(f.w, "%s %s session %s\n", f.styles.Healthy.Render("✓"), verb, f.styles.Key.Render(reg.Session.SessionID))
	if reg.Session.WorkKey != "" {
		f.detail("claimed " + reg.Session.WorkKey)
	}
	f.detail("guard: " + string(reg.Decision.Reason))
}

// RenderRelease writes the outcome of a manual release.
func (f *Formatter) RenderRelease(sessionID string, outcome store.ReleaseOutcome) {
	switch outcome {
	case store.OutcomeReleased:
		fmt.Fprintf(f.w, "%s released %s\n", f.styles.Healthy.Render("✓"), sessionID)
	case store.OutcomeAlreadyReleased:
		fmt.Fprintf(f.w, "%s %s was already released\n", f.styles.Muted.Render("•"), sessionID)
	default:
		fmt.Fprintf(f.w, "%s no session %s\n", f.styles.Warning.Render("⚠"), sessionID)
	}
}
