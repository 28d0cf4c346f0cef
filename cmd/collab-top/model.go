package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-collab/pkg/admin"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#FF00FF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	summaryStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(0, 2).
			MarginLeft(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true).
			MarginLeft(2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginLeft(2)
)

type view int

const (
	peersView view = iota
	claimsView
	graphsView
	viewCount
)

var viewNames = [viewCount]string{"Peers", "Claims", "Graphs"}

type keyMap struct {
	Tab      key.Binding
	ShiftTab key.Binding
	Refresh  key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Tab:      key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next view")),
	ShiftTab: key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev view")),
	Refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Refresh, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Tab, k.ShiftTab}, {k.Refresh, k.Quit}}
}

type model struct {
	fetcher  *fetcher
	interval time.Duration

	current view
	tables  [viewCount]table.Model
	spinner spinner.Model
	help    help.Model
	keys    keyMap

	state     *admin.State
	updatedAt time.Time
	err       error
	loading   bool
}

func newTable(columns ...table.Column) table.Model {
	t := table.New(table.WithColumns(columns), table.WithFocused(true), table.WithHeight(12))
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#FF00FF")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func initialModel(f *fetcher, interval time.Duration) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := model{
		fetcher:  f,
		interval: interval,
		spinner:  sp,
		help:     help.New(),
		keys:     keys,
		loading:  true,
	}
	m.tables[peersView] = newTable(
		table.Column{Title: "Peer", Width: 38},
		table.Column{Title: "Address", Width: 22},
		table.Column{Title: "Status", Width: 8},
		table.Column{Title: "Heartbeat", Width: 10},
	)
	m.tables[claimsView] = newTable(
		table.Column{Title: "Namespace", Width: 10},
		table.Column{Title: "Key", Width: 30},
		table.Column{Title: "Owner", Width: 38},
	)
	m.tables[graphsView] = newTable(
		table.Column{Title: "Graph", Width: 30},
		table.Column{Title: "Sheet", Width: 16},
		table.Column{Title: "Nodes", Width: 7},
		table.Column{Title: "Edges", Width: 7},
		table.Column{Title: "Users", Width: 20},
	)
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetcher.cmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case stateMsg:
		m.state = &msg.state
		m.updatedAt = msg.at
		m.err = nil
		m.loading = false
		m.fillTables(msg.at)
		return m, tickCmd(m.interval)

	case errMsg:
		m.err = msg.err
		m.loading = false
		return m, tickCmd(m.interval)

	case tickMsg:
		m.loading = true
		return m, m.fetcher.cmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Tab):
			m.current = (m.current + 1) % viewCount
			return m, nil
		case key.Matches(msg, m.keys.ShiftTab):
			m.current = (m.current + viewCount - 1) % viewCount
			return m, nil
		case key.Matches(msg, m.keys.Refresh):
			m.loading = true
			return m, m.fetcher.cmd()
		}
	}

	var cmd tea.Cmd
	m.tables[m.current], cmd = m.tables[m.current].Update(msg)
	return m, cmd
}

func (m *model) fillTables(now time.Time) {
	st := m.state

	peers := make([]table.Row, 0, len(st.Peers)+1)
	peers = append(peers, table.Row{st.Self.ID + " (self)",
		fmt.Sprintf("%s:%d", st.Self.Host, st.Self.Port), string(st.Self.Status), age(now, st.LastHeartbeat)})
	for _, p := range st.Peers {
		peers = append(peers, table.Row{p.ID,
			fmt.Sprintf("%s:%d", p.Host, p.Port), string(p.Status), age(now, p.LastHeartbeat)})
	}
	m.tables[peersView].SetRows(peers)

	claims := make([]table.Row, 0, len(st.Claims))
	for _, c := range st.Claims {
		claims = append(claims, table.Row{string(c.Namespace), c.Key, c.PeerID})
	}
	m.tables[claimsView].SetRows(claims)

	var graphs []table.Row
	for _, g := range st.Graphs {
		for _, s := range g.Sheets {
			users := make([]string, len(s.Users))
			for i, u := range s.Users {
				users[i] = u.ID
			}
			graphs = append(graphs, table.Row{g.Key, s.ID,
				fmt.Sprint(s.Nodes), fmt.Sprint(s.Edges), strings.Join(users, ",")})
		}
	}
	m.tables[graphsView].SetRows(graphs)
}

func age(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return now.Sub(t).Round(time.Second).String()
}

func (m model) View() string {
	var s strings.Builder

	title := "collab-top " + m.fetcher.url
	if m.loading {
		title += " " + m.spinner.View()
	}
	s.WriteString(titleStyle.Render(title))
	s.WriteString("\n\n")

	if m.state != nil {
		s.WriteString(summaryStyle.Render(fmt.Sprintf("peers %d   claims %d   owned %d   graphs %d   users %d",
			len(m.state.Peers)+1, len(m.state.Claims), len(m.state.Owned), len(m.state.Graphs), m.state.Users)))
		s.WriteString("\n\n")
	}

	tabs := make([]string, viewCount)
	for i, name := range viewNames {
		if view(i) == m.current {
			tabs[i] = activeTabStyle.Render(name)
		} else {
			tabs[i] = inactiveTabStyle.Render(name)
		}
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
	s.WriteString("\n\n")
	s.WriteString(m.tables[m.current].View())

	if m.err != nil {
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render("✗ " + m.err.Error()))
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	return s.String()
}
