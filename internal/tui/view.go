package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"kpiprogress/internal/core"
)

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	yearStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#2563EB")).Bold(true).Padding(0, 1)
	labelStyle    = lipgloss.NewStyle().Width(11)
	focusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true).Width(11)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F15B5B"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E"))
	totalStyle    = lipgloss.NewStyle().Bold(true)
	frameStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#F47A60")).
			Padding(1, 2)
)

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if m.loading {
		return frameStyle.Render(mutedStyle.Render(fmt.Sprintf("Loading connection %d...", m.parentRef)))
	}
	if m.fatal != nil {
		return frameStyle.Render(errorStyle.Render("Could not open the editor: "+m.fatal.Error()) +
			"\n\n" + mutedStyle.Render("esc quit"))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("KPI progress · connection %d", m.session.ParentRef())))
	b.WriteString("\n\n")
	b.WriteString(m.renderYears())
	b.WriteString("\n\n")
	b.WriteString(m.renderMonths())
	b.WriteString("\n")
	b.WriteString(m.renderSummary())
	b.WriteString("\n\n")
	b.WriteString(mutedStyle.Render("←/→ year  tab/↑/↓ month  space average  ctrl+s save  ctrl+r reset  esc quit"))
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(m.renderStatus())
	}
	return frameStyle.Render(b.String())
}

func (m model) renderYears() string {
	parts := make([]string, 0, len(m.session.Options()))
	for _, o := range m.session.Options() {
		style := yearStyle
		if o.Key == m.session.SelectedYear() {
			style = selectedStyle
		}
		parts = append(parts, style.Render(o.Label))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m model) renderMonths() string {
	rows := make([]string, 0, core.MonthsPerYear)
	for mo := range core.AllSlots() {
		label := labelStyle.Render(mo.Label())
		if int(mo) == m.focus {
			label = focusStyle.Render(mo.Label())
		}
		row := label + " " + m.inputs[mo].View()
		if m.invalid[mo] {
			row += " " + errorStyle.Render("not a number")
		}
		rows = append(rows, row)
	}
	return strings.Join(rows, "\n")
}

func (m model) renderSummary() string {
	rec := m.session.Current()
	changed := m.session.ChangeSet().Years()
	unsaved := "none"
	if len(changed) > 0 {
		parts := make([]string, len(changed))
		for i, y := range changed {
			parts[i] = fmt.Sprint(y)
		}
		unsaved = strings.Join(parts, ", ")
	}
	average := "[ ]"
	if rec.UsesAverage {
		average = "[x]"
	}
	return fmt.Sprintf("%s average of filled months\nTotal (%s): %s\nThis year: %s   Unsaved: %s",
		average,
		rec.Policy(),
		totalStyle.Render(m.session.FormattedTotal()),
		m.session.Classify(),
		unsaved)
}

func (m model) renderStatus() string {
	switch m.statusKind {
	case statusError:
		return errorStyle.Render(m.status)
	case statusOK:
		return okStyle.Render(m.status)
	default:
		return mutedStyle.Render(m.status)
	}
}
