package banner

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const linkdex = `╻  ╻┏┓╻╻┏ ╺┳┓┏━╸╻ ╻
┃  ┃┃┗┫┣┻┓ ┃┃┣╸ ┏╋┛
┗━╸╹╹ ╹╹ ╹╺┻┛┗━╸╹ ╹`

var (
	yellow1 = lipgloss.Color("#FFC83F")
	blue1   = lipgloss.Color("#0176CE")

	titleStyle     = lipgloss.NewStyle().Foreground(yellow1).Padding(0, 1)
	versionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	labelStyle     = lipgloss.NewStyle().Foreground(blue1).Bold(true)
	valueStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	serverURLStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// Info describes what a running server reads from and writes to.
type Info struct {
	Version string
	Port    int
	Bucket  string
	Store   string
	Table   string
	Routes  []string
}

func Banner(info Info) string {
	top := lipgloss.JoinHorizontal(lipgloss.Bottom,
		titleStyle.Render(linkdex),
		versionStyle.Render(info.Version),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		top,
		"------------------------------",
		details(info),
		"------------------------------",
		fmt.Sprintf("⇨ HTTP server started on %s", serverURLStyle.Render(fmt.Sprintf("http://localhost:%d", info.Port))),
	)
}

func details(info Info) string {
	rows := [][2]string{
		{"Bucket", info.Bucket},
		{"Store", info.Store},
		{"Table", info.Table},
	}
	var sb strings.Builder
	for i, r := range rows {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s %s", labelStyle.Render(fmt.Sprintf("%-6s", r[0])), valueStyle.Render(r[1]))
	}
	for i, route := range info.Routes {
		label := ""
		if i == 0 {
			label = "Routes"
		}
		fmt.Fprintf(&sb, "\n%s %s", labelStyle.Render(fmt.Sprintf("%-6s", label)), valueStyle.Render(route))
	}
	return sb.String()
}
