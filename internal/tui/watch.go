// Package tui provides the interactive job monitor for NarraForge.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Marksio90/narraforge/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	jobItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	statusStyles = map[models.JobStatus]lipgloss.Style{
		models.JobStatusQueued:    lipgloss.NewStyle().Foreground(mutedColor),
		models.JobStatusRunning:   lipgloss.NewStyle().Foreground(warningColor),
		models.JobStatusCompleted: lipgloss.NewStyle().Foreground(successColor),
		models.JobStatusFailed:    lipgloss.NewStyle().Foreground(errorColor),
		models.JobStatusCancelled: lipgloss.NewStyle().Foreground(mutedColor),
	}
)

const pollEvery = 2 * time.Second

type jobsMsg struct {
	jobs []models.Job
	err  error
}

type tickMsg time.Time

// App is the job monitor model.
type App struct {
	client      *Client
	jobs        []models.Job
	selectedIdx int
	spin        spinner.Model
	width       int
	height      int
	lastErr     error
}

// NewApp creates the monitor against the daemon API address.
func NewApp(apiAddr string) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)
	return &App{
		client: NewClient(apiAddr),
		spin:   sp,
	}
}

// Run starts the bubbletea program.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spin.Tick, a.fetchJobs, tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) fetchJobs() tea.Msg {
	jobs, err := a.client.ListJobs()
	return jobsMsg{jobs: jobs, err: err}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "up", "k":
			if a.selectedIdx > 0 {
				a.selectedIdx--
			}
		case "down", "j":
			if a.selectedIdx < len(a.jobs)-1 {
				a.selectedIdx++
			}
		case "c":
			if a.selectedIdx < len(a.jobs) {
				jobID := a.jobs[a.selectedIdx].ID
				return a, func() tea.Msg {
					a.client.CancelJob(jobID)
					return a.fetchJobs()
				}
			}
		case "r":
			if a.selectedIdx < len(a.jobs) {
				jobID := a.jobs[a.selectedIdx].ID
				return a, func() tea.Msg {
					a.client.ResumeJob(jobID)
					return a.fetchJobs()
				}
			}
		}
		return a, nil

	case tickMsg:
		return a, tea.Batch(a.fetchJobs, tick())

	case jobsMsg:
		a.lastErr = msg.err
		if msg.err == nil {
			a.jobs = msg.jobs
			if a.selectedIdx >= len(a.jobs) && len(a.jobs) > 0 {
				a.selectedIdx = len(a.jobs) - 1
			}
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd
	}

	return a, nil
}

func (a *App) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("NarraForge Jobs"))
	b.WriteString("\n\n")

	if a.lastErr != nil {
		b.WriteString(statusStyles[models.JobStatusFailed].Render(fmt.Sprintf("  API error: %v", a.lastErr)))
		b.WriteString("\n\n")
	}

	if len(a.jobs) == 0 {
		b.WriteString(helpStyle.Render("  no jobs yet"))
		b.WriteString("\n")
	}

	for i, j := range a.jobs {
		line := fmt.Sprintf("%s %s %-10s %2d/10  $%.4f  %s/%s",
			a.statusGlyph(j.Status), shortID(j.ID), j.Status,
			len(j.CompletedStages), j.CostUSD, j.Brief.Kind, j.Brief.Genre)
		if i == a.selectedIdx {
			b.WriteString(selectedStyle.Render(line))
		} else {
			b.WriteString(jobItemStyle.Render(line))
		}
		b.WriteString("\n")
	}

	if a.selectedIdx < len(a.jobs) {
		j := a.jobs[a.selectedIdx]
		b.WriteString("\n")
		detail := fmt.Sprintf("current: %s", j.CurrentStage)
		if j.LastError != "" {
			detail = fmt.Sprintf("error: %s (resumable=%v)", j.LastError, j.Resumable)
		}
		b.WriteString(statusBarStyle.Render(detail))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("  j/k move · c cancel · r resume · q quit"))
	return b.String()
}

func (a *App) statusGlyph(status models.JobStatus) string {
	if status == models.JobStatusRunning {
		return a.spin.View()
	}
	return statusStyles[status].Render("●")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
