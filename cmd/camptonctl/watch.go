package main

import (
	"context"
	"fmt"
	"time"

	cl "campton/internal/cli"
	"campton/internal/config"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	watchStatStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	watchErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	watchHelpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	watchBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

func newWatchCmd(cfg *config.CLIConfig) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live terminal dashboard of the market",
		RunE: func(cmd *cobra.Command, args []string) error {
			model := newWatchModel(newClient(cfg), every)
			_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&every, "every", 10*time.Second, "refresh interval")
	return cmd
}

type watchSnapshot struct {
	price cl.PriceInfo
	rows  []cl.LeaderboardRow
	err   error
}

type watchModel struct {
	client  *cl.Client
	every   time.Duration
	table   table.Model
	price   cl.PriceInfo
	lastErr error
	updated time.Time
}

func newWatchModel(client *cl.Client, every time.Duration) watchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "RANK", Width: 6},
			{Title: "USER", Width: 22},
			{Title: "CASH", Width: 14},
			{Title: "COINS", Width: 14},
			{Title: "NET WORTH", Width: 14},
		}),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("86"))
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)
	return watchModel{client: client, every: every, table: t}
}

func (m watchModel) Init() tea.Cmd {
	return m.fetch
}

func (m watchModel) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var out watchSnapshot
	price, err := m.client.Price(ctx)
	if err != nil {
		out.err = err
		return out
	}
	rows, err := m.client.Leaderboard(ctx, 0)
	if err != nil {
		out.err = err
		return out
	}
	out.price = price
	out.rows = rows
	return out
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.every, func(time.Time) tea.Msg {
		return m.fetch()
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	case watchSnapshot:
		m.lastErr = msg.err
		if msg.err == nil {
			m.price = msg.price
			m.updated = time.Now()
			rows := make([]table.Row, 0, len(msg.rows))
			for _, row := range msg.rows {
				rows = append(rows, table.Row{
					fmt.Sprintf("%d", row.Rank),
					row.UserID,
					row.Balance.StringFixed(2),
					row.Holding.String(),
					row.NetWorth.StringFixed(2),
				})
			}
			m.table.SetRows(rows)
		}
		return m, m.tick()
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m watchModel) View() string {
	header := watchTitleStyle.Render("CAMPTON COIN")
	stats := "waiting for first refresh..."
	if !m.updated.IsZero() {
		remaining := time.Until(m.price.NextConversionDeadline)
		if remaining < 0 {
			remaining = 0
		}
		stats = fmt.Sprintf("price $%s    conversion in %dd %dh    refreshed %s",
			m.price.Price.StringFixed(2),
			int(remaining.Hours())/24,
			int(remaining.Hours())%24,
			m.updated.Format("15:04:05"))
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		header,
		watchStatStyle.Render(stats),
		"",
		m.table.View(),
	)
	if m.lastErr != nil {
		body = lipgloss.JoinVertical(lipgloss.Left, body,
			watchErrStyle.Render("refresh failed: "+m.lastErr.Error()))
	}
	body = lipgloss.JoinVertical(lipgloss.Left, body,
		watchHelpStyle.Render("r refresh · q quit"))
	return watchBoxStyle.Render(body)
}
