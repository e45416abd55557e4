package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	applog "kpiprogress/internal/log"
	"kpiprogress/internal/services"
)

// Run shows the editor for parentRef until the user quits or ctx ends.
func Run(ctx context.Context, editor *services.Editor, parentRef int64, logger *applog.Logger) error {
	p := tea.NewProgram(New(ctx, editor, parentRef, logger), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run editor: %w", err)
	}
	if m, ok := final.(model); ok && m.fatal != nil {
		return m.fatal
	}
	return nil
}
