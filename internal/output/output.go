// Package output renders command results for a terminal or as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/storacha/linkdex/pkg/bus/events"
	"github.com/storacha/linkdex/pkg/linkdex"
	"github.com/storacha/linkdex/pkg/reporter"
)

type OutputFormat struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Printer writes results to out and diagnostics to errOut. Styling is only
// applied when out is a terminal.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	json   bool
	styles *styles
}

type styles struct {
	label     lipgloss.Style
	complete  lipgloss.Style
	partial   lipgloss.Style
	unknown   lipgloss.Style
	archive   lipgloss.Style
	failed    lipgloss.Style
	succeeded lipgloss.Style
}

func New(out, errOut io.Writer, jsonMode bool) *Printer {
	p := &Printer{out: out, errOut: errOut, json: jsonMode}
	if !jsonMode && isTerminal(out) {
		r := lipgloss.NewRenderer(out)
		p.styles = &styles{
			label:     r.NewStyle().Bold(true),
			complete:  r.NewStyle().Foreground(lipgloss.Color("2")),
			partial:   r.NewStyle().Foreground(lipgloss.Color("3")),
			unknown:   r.NewStyle().Foreground(lipgloss.Color("8")),
			archive:   r.NewStyle().Foreground(lipgloss.Color("6")),
			failed:    r.NewStyle().Foreground(lipgloss.Color("1")),
			succeeded: r.NewStyle().Foreground(lipgloss.Color("2")),
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) render(style func(*styles) lipgloss.Style, s string) string {
	if p.styles == nil {
		return s
	}
	return style(p.styles).Render(s)
}

func (p *Printer) Success(message string, args ...any) {
	fmt.Fprintf(p.out, "linkdex: "+message+"\n", args...)
}

func (p *Printer) Error(err error) {
	if p.json {
		_ = json.NewEncoder(p.errOut).Encode(OutputFormat{Status: "error", Message: err.Error()})
		return
	}
	fmt.Fprintf(p.errOut, "%s %s\n", p.render(func(s *styles) lipgloss.Style { return s.failed }, "error:"), err)
}

func (p *Printer) Warning(message string, args ...any) {
	fmt.Fprintf(p.errOut, "warning: "+message+"\n", args...)
}

func (p *Printer) JSON(data any) error {
	return json.NewEncoder(p.out).Encode(OutputFormat{
		Status: "success",
		Data:   data,
	})
}

// Report prints a completeness report.
func (p *Printer) Report(r reporter.Report) error {
	if p.json {
		return p.JSON(r)
	}
	archives := "-"
	if len(r.Archives) > 0 {
		styled := make([]string, 0, len(r.Archives))
		for _, a := range r.Archives {
			styled = append(styled, p.render(func(s *styles) lipgloss.Style { return s.archive }, a))
		}
		archives = strings.Join(styled, "\n")
	}
	rows := [][]string{
		{p.label("structure"), p.structure(r.Structure)},
		{p.label("blocks"), humanize.Comma(int64(r.BlocksIndexed))},
		{p.label("unique cids"), humanize.Comma(int64(r.UniqueCids))},
		{p.label("undecodable"), humanize.Comma(int64(r.Undecodable))},
	}
	p.Table(rows)
	fmt.Fprintf(p.out, "%s\n%s\n", p.label("archives"), archives)
	return nil
}

// Archive prints one progress event of the ingestion pipeline.
func (p *Printer) Archive(v events.ArchiveView) {
	if p.json {
		return
	}
	loc := v.Bucket + "/" + v.Key
	switch v.State {
	case events.Indexing:
		fmt.Fprintf(p.errOut, "indexing %s\n", loc)
	case events.Indexed:
		fmt.Fprintf(p.errOut, "indexed  %s: %s blocks, %s records\n", loc,
			humanize.Comma(int64(v.Blocks)), humanize.Comma(int64(v.Records)))
	case events.Written:
		fmt.Fprintf(p.errOut, "%s  %s in %s\n",
			p.render(func(s *styles) lipgloss.Style { return s.succeeded }, "written"), loc, v.Elapsed.Round(time.Millisecond))
	case events.Failed:
		fmt.Fprintf(p.errOut, "%s   %s: %v\n",
			p.render(func(s *styles) lipgloss.Style { return s.failed }, "failed"), loc, v.Err)
	}
}

func (p *Printer) label(s string) string {
	return p.render(func(s *styles) lipgloss.Style { return s.label }, s)
}

func (p *Printer) structure(s linkdex.Structure) string {
	return p.render(func(st *styles) lipgloss.Style {
		switch s {
		case linkdex.Complete:
			return st.complete
		case linkdex.Partial:
			return st.partial
		default:
			return st.unknown
		}
	}, s.String())
}

// Table prints rows with columns padded to the widest visible cell.
func (p *Printer) Table(data [][]string) {
	if len(data) == 0 {
		return
	}

	widths := make([]int, len(data[0]))
	for _, row := range data {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	for _, row := range data {
		var sb strings.Builder
		for i, cell := range row {
			sb.WriteString(cell)
			if i < len(row)-1 {
				sb.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		fmt.Fprintln(p.out, sb.String())
	}
}
