// Package feed implements the `v0 watch` live dashboard: a bubbletea model
// polling operation and merge-queue state on a timer, refreshed via
// tea.Tick and re-batched on every tick into another fetch plus the next
// tick.
package feed

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/v0dev/v0core/internal/mergequeue"
	"github.com/v0dev/v0core/internal/opstate"
)

// refreshInterval is how often the dashboard re-polls disk state.
const refreshInterval = 2 * time.Second

// Row is one operation's rendered summary line.
type Row struct {
	Name        string
	Phase       opstate.Phase
	MergeStatus opstate.MergeStatus
	QueueStatus mergequeue.Status
	Held        bool
}

// KeyMap binds the dashboard's key bindings.
type KeyMap struct {
	Quit key.Binding
	Help key.Binding
}

// DefaultKeyMap returns the standard bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Help: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
	}
}

// Source abstracts the on-disk reads the dashboard needs, satisfied by
// *opstate.Store plus *mergequeue.Queue.
type Source struct {
	Store *opstate.Store
	Queue *mergequeue.Queue
}

func (s Source) rows() ([]Row, error) {
	names, err := s.Store.List()
	if err != nil {
		return nil, err
	}
	queued := map[string]mergequeue.Status{}
	if s.Queue != nil {
		if pending, err := s.Queue.AllPending(); err == nil {
			for _, e := range pending {
				queued[e.Operation] = e.Status
			}
		}
	}
	rows := make([]Row, 0, len(names))
	for _, name := range names {
		o, err := s.Store.Read(name)
		if err != nil {
			continue
		}
		rows = append(rows, Row{
			Name:        name,
			Phase:       o.Phase,
			MergeStatus: o.MergeStatus,
			QueueStatus: queued[name],
			Held:        o.Held,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows, nil
}

// Model is the bubbletea model backing `v0 watch`.
type Model struct {
	source Source
	rows   []Row
	err    error

	keys     KeyMap
	help     help.Model
	showHelp bool
	width    int
	height   int
}

// New constructs a dashboard Model.
func New(source Source) Model {
	return Model{
		source: source,
		keys:   DefaultKeyMap(),
		help:   help.New(),
	}
}

type refreshMsg struct {
	rows []Row
	err  error
}

func (m Model) fetch() tea.Msg {
	rows, err := m.source.rows()
	return refreshMsg{rows: rows, err: err}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

type tickMsg struct{}

// Init kicks off the first fetch and the refresh timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch, tick())
}

// Update handles bubbletea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case refreshMsg:
		m.rows = msg.rows
		m.err = msg.err
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetch, tick())

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		}
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.err != nil {
		return fmt.Sprintf("error reading state: %v\n", m.err)
	}
	out := headerStyle.Render("v0 watch") + "\n\n"
	for _, r := range m.rows {
		out += renderRow(r) + "\n"
	}
	if m.showHelp {
		out += "\n" + m.help.View(helpKeys{m.keys})
	}
	return out
}

type helpKeys struct{ keys KeyMap }

func (h helpKeys) ShortHelp() []key.Binding { return []key.Binding{h.keys.Help, h.keys.Quit} }
func (h helpKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{{h.keys.Help, h.keys.Quit}}
}
