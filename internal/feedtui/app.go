// Package feedtui hosts the feed pipeline inside a bubbletea program. All
// mutation (fetch completions, push events, sweep ticks, key input) arrives
// as discrete messages on the one event loop, so every pipeline
// recomputation is atomic with respect to the others.
package feedtui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mglns/feedview/internal/entity"
	"github.com/mglns/feedview/internal/logging"
	"github.com/mglns/feedview/internal/transport"
)

var titleStyle = lipgloss.NewStyle().Bold(true)

// App is the top-level bubbletea model.
type App struct {
	view      *feedView
	channelID string
	width     int
	height    int
	ready     bool
}

func NewApp(store *entity.Store, provider transport.Provider, channelID string, opts Options) *App {
	return &App{
		view:      newFeedView(store, provider, opts),
		channelID: channelID,
	}
}

func (a *App) Init() tea.Cmd {
	return a.view.Open(a.channelID)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = typed.Width
		a.height = typed.Height
		a.ready = true
		// One row for the title bar.
		a.view.setSize(typed.Width, maxInt(0, typed.Height-1))
		return a, nil
	case tea.KeyMsg:
		if !a.view.composeActive {
			switch typed.String() {
			case "ctrl+c", "q":
				a.view.Close()
				return a, tea.Quit
			}
		} else if typed.String() == "ctrl+c" {
			a.view.Close()
			return a, tea.Quit
		}
	}
	return a, a.view.Update(msg)
}

func (a *App) View() string {
	if !a.ready {
		return "loading…"
	}
	title := titleStyle.Render(truncateVis(fmt.Sprintf("#%s", a.channelID), a.width))
	return title + "\n" + a.view.View()
}

// Run starts the program and blocks until it exits.
func Run(store *entity.Store, provider transport.Provider, channelID string, opts Options) error {
	log := logging.Component("feedtui")
	log.Info().Str("channel_id", channelID).Msg("starting feed")
	program := tea.NewProgram(NewApp(store, provider, channelID, opts), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
