package report

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Styles holds the styles for each report element.
type Styles struct {
	Header      lipgloss.Style
	Healthy     lipgloss.Style
	Ghost       lipgloss.Style
	Orphaned    lipgloss.Style
	Discrepancy lipgloss.Style
	Key         lipgloss.Style
	Muted       lipgloss.Style
	Warning     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Header:      r.NewStyle().Bold(true),
		Healthy:     r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true), // Green
		Ghost:       r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),  // Red
		Orphaned:    r.NewStyle().Foreground(lipgloss.Color("11")).Bold(true), // Yellow
		Discrepancy: r.NewStyle().Foreground(lipgloss.Color("13")).Bold(true), // Magenta
		Key:         r.NewStyle().Foreground(lipgloss.Color("14")),
		Muted:       r.NewStyle().Foreground(lipgloss.Color("8")),
		Warning:     r.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

// ColorEnabled decides whether output to w is colored. NO_COLOR and noColor
// disable color; CLICOLOR_FORCE=1 enables it even when w is not a terminal.
func ColorEnabled(w io.Writer, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") == "1" {
		return true
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newRenderer(w io.Writer, color bool) *lipgloss.Renderer {
	if !color {
		return lipgloss.NewRenderer(w, termenv.WithProfile(termenv.Ascii))
	}
	r := lipgloss.NewRenderer(w)
	if os.Getenv("COLORTERM") == "truecolor" {
		r.SetColorProfile(termenv.TrueColor)
	} else if r.ColorProfile() == termenv.Ascii {
		// Forced color on a non-terminal writer.
		r.SetColorProfile(termenv.ANSI256)
	}
	return r
}
