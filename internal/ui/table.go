package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
)

// RoomsView renders the public room listing.
func RoomsView(rooms []string) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No public rooms")
	}

	rows := make([][]string, 0, len(rooms))
	for i, room := range rooms {
		rows = append(rows, []string{strconv.Itoa(i + 1), room})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Room").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// RoomBox shows the joined room and the link a browser peer can open.
func RoomBox(room, link string) string {
	content := fmt.Sprintf("%s Joined room\n\n%s Room:  %s\n%s Link:  %s",
		IconScreen,
		IconRoom, BoldStyle.Foreground(Primary).Render(room),
		IconLink, MutedStyle.Render(link),
	)
	return RoomBoxStyle.Render(content)
}

// ProbeResult is the outcome of gathering candidates against one ICE server.
type ProbeResult struct {
	URL        string
	Candidates []string
	Err        error
}

// ProbeView renders probe results, one row per server and candidate type.
func ProbeView(results []ProbeResult) string {
	t := prettytable.NewWriter()
	t.SetTitle(IconProbe + " ICE servers")
	t.AppendHeader(prettytable.Row{"Server", "Status", "Candidate types"})

	for _, r := range results {
		status := "ok"
		types := strings.Join(r.Candidates, ", ")
		switch {
		case r.Err != nil:
			status = "error: " + r.Err.Error()
		case len(r.Candidates) == 0:
			status = "no candidates"
		}
		t.AppendRow(prettytable.Row{r.URL, status, types})
	}

	t.SetStyle(prettytable.StyleRounded)
	return t.Render()
}
