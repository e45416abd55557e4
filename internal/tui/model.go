package tui

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"kpiprogress/internal/core"
	applog "kpiprogress/internal/log"
	"kpiprogress/internal/services"
)

type sessionLoadedMsg struct {
	session *core.Session
	err     error
}

type savedMsg struct {
	result services.SaveResult
	years  []int
	err    error
}

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusError
)

type model struct {
	ctx       context.Context
	editor    *services.Editor
	parentRef int64
	logger    *applog.Logger

	session *core.Session
	inputs  [core.MonthsPerYear]textinput.Model
	invalid [core.MonthsPerYear]bool
	focus   int

	loading     bool
	saving      bool
	confirmQuit bool
	quitting    bool
	fatal       error

	status     string
	statusKind statusKind
	width      int
}

// New returns the editor model for parentRef. The session is opened by Init.
func New(ctx context.Context, editor *services.Editor, parentRef int64, logger *applog.Logger) tea.Model {
	if logger == nil {
		logger = applog.FromContext(ctx)
	}
	m := model{
		ctx:       ctx,
		editor:    editor,
		parentRef: parentRef,
		logger:    logger.WithComponent(applog.ComponentTUI),
		loading:   true,
	}
	for i := range m.inputs {
		in := textinput.New()
		in.Prompt = ""
		in.Placeholder = "-"
		in.CharLimit = 24
		in.Width = 14
		m.inputs[i] = in
	}
	return m
}

func (m model) Init() tea.Cmd {
	return m.openCmd()
}

func (m model) openCmd() tea.Cmd {
	return func() tea.Msg {
		sess, err := m.editor.Open(m.ctx, m.parentRef)
		return sessionLoadedMsg{session: sess, err: err}
	}
}

// saveCmd runs while the model refuses edits, so the session is not
// touched concurrently.
func (m model) saveCmd() tea.Cmd {
	sess := m.session
	years := sess.ChangeSet().Years()
	return func() tea.Msg {
		res, err := m.editor.Save(m.ctx, sess)
		return savedMsg{result: res, years: years, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case sessionLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.fatal = msg.err
			m.logger.Error("Editing session could not be opened",
				applog.FieldConnectionID, m.parentRef, applog.FieldError, msg.err)
			return m, nil
		}
		m.session = msg.session
		m.logger.Info("Editing session opened",
			applog.FieldConnectionID, m.parentRef, applog.FieldYear, m.session.SelectedYear())
		cmd := m.loadInputs()
		return m, cmd

	case savedMsg:
		m.saving = false
		m.session = msg.result.Session
		reloadFailed := errors.Is(msg.err, services.ErrReload)
		if msg.err != nil && !reloadFailed {
			m.logger.Error("KPI change set save failed",
				applog.FieldConnectionID, m.parentRef, applog.FieldError, msg.err)
			m.setStatus(statusError, "Save failed, edits kept: "+msg.err.Error())
			return m, nil
		}
		if len(msg.years) == 0 {
			m.setStatus(statusInfo, "Nothing to save")
			return m, nil
		}
		m.logger.Info("KPI change set saved",
			applog.FieldConnectionID, m.parentRef, applog.FieldYears, msg.years)
		if reloadFailed {
			m.logger.Warn("Stored data could not be reloaded after save",
				applog.FieldConnectionID, m.parentRef, applog.FieldError, msg.err)
			m.setStatus(statusInfo, fmt.Sprintf("Saved %d year(s), reload failed: showing the saved values", len(msg.result.Saved)))
		} else {
			m.setStatus(statusOK, fmt.Sprintf("Saved %d year(s)", len(msg.result.Saved)))
		}
		cmd := m.loadInputs()
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}
	if m.fatal != nil || m.loading {
		if key == "esc" || key == "q" || key == "enter" {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	}

	if key != "esc" {
		m.confirmQuit = false
	}
	if m.saving {
		return m, nil
	}

	switch key {
	case "esc":
		if m.session.Dirty() && !m.confirmQuit {
			m.confirmQuit = true
			m.setStatus(statusError, "Unsaved changes. Press esc again to quit, ctrl+s to save.")
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case "left", "right":
		return m.stepYear(key == "right")

	case "tab", "down", "enter":
		cmd := m.focusInput((m.focus + 1) % core.MonthsPerYear)
		return m, cmd

	case "shift+tab", "up":
		cmd := m.focusInput((m.focus + core.MonthsPerYear - 1) % core.MonthsPerYear)
		return m, cmd

	case " ", "space":
		rec, err := m.session.SetUsesAverage(!m.session.Current().UsesAverage)
		if err != nil {
			m.setStatus(statusError, err.Error())
			return m, nil
		}
		m.setStatus(statusInfo, "Aggregation: "+rec.Policy().String())
		return m, nil

	case "ctrl+s":
		if slices.Contains(m.invalid[:], true) {
			m.setStatus(statusError, "Fix the invalid months before saving")
			return m, nil
		}
		m.saving = true
		m.setStatus(statusInfo, "Saving...")
		return m, m.saveCmd()

	case "ctrl+r":
		if err := m.session.Reset(); err != nil {
			m.setStatus(statusError, err.Error())
			return m, nil
		}
		m.setStatus(statusInfo, "Edits discarded")
		cmd := m.loadInputs()
		return m, cmd
	}

	return m.editFocused(msg)
}

// stepYear moves the selection to the neighbouring option.
func (m model) stepYear(forward bool) (tea.Model, tea.Cmd) {
	opts := m.session.Options()
	idx := slices.IndexFunc(opts, func(o core.YearOption) bool { return o.Key == m.session.SelectedYear() })
	if forward {
		idx++
	} else {
		idx--
	}
	if idx < 0 || idx >= len(opts) {
		return m, nil
	}
	if _, err := m.session.SelectYear(opts[idx].Key); err != nil {
		m.setStatus(statusError, err.Error())
		return m, nil
	}
	m.status = ""
	cmd := m.loadInputs()
	return m, cmd
}

// editFocused forwards the key to the focused month and applies the value
// when it parses. Invalid text stays in the field without touching the
// session.
func (m model) editFocused(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	before := m.inputs[m.focus].Value()
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	after := m.inputs[m.focus].Value()
	if after == before {
		return m, cmd
	}

	reading, err := core.ParseReading(after)
	if err != nil {
		m.invalid[m.focus] = true
		return m, cmd
	}
	m.invalid[m.focus] = false
	month := core.Month(m.focus)
	if _, err := m.session.SetMonth(month, reading); err != nil {
		m.setStatus(statusError, err.Error())
	}
	return m, cmd
}

// loadInputs shows the working record of the selected year.
func (m *model) loadInputs() tea.Cmd {
	rec := m.session.Current()
	for mo := range core.AllSlots() {
		m.inputs[mo].SetValue(rec.Get(mo).String())
		m.inputs[mo].CursorEnd()
		m.invalid[mo] = false
	}
	return m.focusInput(m.focus)
}

func (m *model) focusInput(i int) tea.Cmd {
	for j := range m.inputs {
		m.inputs[j].Blur()
	}
	m.focus = i
	return m.inputs[i].Focus()
}

func (m *model) setStatus(kind statusKind, text string) {
	m.status = text
	m.statusKind = kind
}
