package cli

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// statusColors maps Jira status category colours to terminal colours.
var statusColors = map[string]lipgloss.Color{
	"blue-gray":   lipgloss.Color("#8993A4"),
	"yellow":      lipgloss.Color("#0C66E4"),
	"green":       lipgloss.Color("#22A06B"),
	"medium-gray": lipgloss.Color("#97A0AF"),
}

// palette renders styled text for one output stream. Colours are dropped
// when the stream is not a terminal.
type palette struct {
	r *lipgloss.Renderer
}

func newPalette(w io.Writer) palette {
	return palette{r: lipgloss.NewRenderer(w)}
}

func (p palette) status(name, color string) string {
	c, ok := statusColors[color]
	if !ok {
		c = statusColors["medium-gray"]
	}
	return p.r.NewStyle().Foreground(c).Render(name)
}

func (p palette) bold(s string) string {
	return p.r.NewStyle().Bold(true).Render(s)
}

func (p palette) faint(s string) string {
	return p.r.NewStyle().Faint(true).Render(s)
}

// table lays out cells in aligned columns. Widths are measured on the
// rendered text so styled cells line up.
type table struct {
	header []string
	rows   [][]string
	footer []string
	// right lists the right-aligned columns.
	right map[int]bool
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(w io.Writer) error {
	all := make([][]string, 0, len(t.rows)+2)
	if t.header != nil {
		all = append(all, t.header)
	}
	all = append(all, t.rows...)
	if t.footer != nil {
		all = append(all, t.footer)
	}

	var widths []int
	for _, row := range all {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	for _, row := range all {
		line := make([]string, len(row))
		for i, cell := range row {
			pad := strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if t.right[i] {
				line[i] = pad + cell
			} else {
				line[i] = cell + pad
			}
		}
		b.WriteString(strings.TrimRight(strings.Join(line, "  "), " "))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// formatHours renders seconds as hours, whole above ten hours.
func formatHours(seconds int) string {
	hours := float64(seconds) / 3600
	if hours >= 10 {
		return fmt.Sprintf("%dh", int(math.Round(hours)))
	}
	return fmt.Sprintf("%.1fh", math.Round(hours*10)/10)
}

func formatPoints(points *float64) string {
	if points == nil || math.IsNaN(*points) || math.IsInf(*points, 0) {
		return "-"
	}
	p := *points
	if math.Abs(p-math.Round(p)) < 0.001 {
		return fmt.Sprintf("%d", int(math.Round(p)))
	}
	return fmt.Sprintf("%.1f", math.Round(p*10)/10)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
