package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live Gateway health, polling once per second",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type healthSnapshot struct {
	Status      string `json:"status"`
	ActiveTasks int    `json:"activeTasks"`
	LastError   string
}

func fetchHealth() healthSnapshot {
	resp, err := httpClient.Get(serverAddr + "/a2a/health")
	if err != nil {
		return healthSnapshot{Status: "unreachable", LastError: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return healthSnapshot{Status: "error", LastError: resp.Status}
	}
	var snap healthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return healthSnapshot{Status: "error", LastError: err.Error()}
	}
	return snap
}

func runStatus(cmd *cobra.Command, args []string) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		snap := fetchHealth()
		if outputFormat == "json" {
			return json.NewEncoder(os.Stdout).Encode(snap)
		}
		fmt.Printf("status=%s activeTasks=%d\n", snap.Status, snap.ActiveTasks)
		return nil
	}

	p := tea.NewProgram(statusModel{addr: serverAddr})
	_, err := p.Run()
	return err
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type statusModel struct {
	addr string
	snap healthSnapshot
}

func (m statusModel) Init() tea.Cmd {
	return tickCmd()
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		m.snap = fetchHealth()
		return m, tickCmd()
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func (m statusModel) View() string {
	statusLine := okStyle.Render(m.snap.Status)
	if m.snap.Status != "ok" {
		statusLine = badStyle.Render(m.snap.Status)
	}
	lastErr := m.snap.LastError
	if lastErr == "" {
		lastErr = "(none)"
	}
	return fmt.Sprintf(
		"%s\n\nGateway: %s\nStatus: %s\nActive Tasks: %d\nLast Error: %s\n\n%s\n",
		titleStyle.Render("CortexOS Kernel Status"),
		m.addr,
		statusLine,
		m.snap.ActiveTasks,
		lastErr,
		dimStyle.Render("Press q to quit."),
	)
}
