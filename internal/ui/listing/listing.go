// Package listing prints matched basic blocks for the show command.
package listing

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"

	"bbtrace/internal/query"
	"bbtrace/internal/ui/colorize"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	recordStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Printer writes matches to w, optionally with colour.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a Printer. Colour is also suppressed by BBTRACE_NO_COLOR.
func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color && !colorize.Disabled()}
}

// Header formats the line introducing a match.
func Header(m query.Match) string {
	return fmt.Sprintf("basic block: %d (%s)", m.Index, m.Record)
}

// Print writes the header, a blank line, the listing and a blank line.
func (p *Printer) Print(m query.Match) error {
	header := Header(m)
	body := m.Block.String()
	if p.color {
		header = titleStyle.Render(fmt.Sprintf("basic block: %d", m.Index)) + " " +
			recordStyle.Render(fmt.Sprintf("(%s)", m.Record))
		lines := strings.Split(body, "\n")
		for i, l := range lines {
			lines[i] = colorize.ColorizeInstructionLine(l)
		}
		body = strings.Join(lines, "\n")
	}
	_, err := fmt.Fprintf(p.w, "%s\n\n%s\n\n", header, body)
	return err
}
