package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"yt-ingest/internal/classify"
	"yt-ingest/internal/config"
	"yt-ingest/internal/model"
	"yt-ingest/internal/store"
)

type browseMode int

const (
	browseModeList browseMode = iota
	browseModeSubmit
	browseModeCancelConfirm
)

type browseRow struct {
	Job model.ScrapingJob
	URL model.SubmittedURL
}

type browseModel struct {
	st *store.Store

	rows    []browseRow
	summary store.Summary
	cursor  int
	width   int
	height  int
	mode    browseMode

	input    textinput.Model
	inputErr string

	confirmCancelID string
	statusMessage   string
	fatalErr        error
}

type browseLoadedMsg struct {
	rows    []browseRow
	summary store.Summary
	err     error
}

type browseSubmitMsg struct {
	message string
	err     error
}

type browseCancelMsg struct {
	message string
	err     error
}

var (
	browseTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	browseMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	browseErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	browseOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	browsePanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	browseSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
)

func runBrowse(args []string) error {
	fs := flag.NewFlagSet("browse", flag.ContinueOnError)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !stdinIsTTY() {
		return errors.New("browse requires an interactive terminal (TTY)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	m := browseModel{st: st, mode: browseModeList}
	program := tea.NewProgram(m, tea.WithAltScreen())
	finalModel, err := program.Run()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return errors.New("browse requires an interactive terminal (TTY)")
		}
		return err
	}
	if fm, ok := finalModel.(browseModel); ok && fm.fatalErr != nil {
		return fm.fatalErr
	}
	return nil
}

func (m browseModel) Init() tea.Cmd {
	return loadJobsCmd(m.st)
}

func loadJobsCmd(st *store.Store) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		jobs, err := st.ListJobs(ctx, store.JobFilter{Limit: 50})
		if err != nil {
			return browseLoadedMsg{err: err}
		}
		rows := make([]browseRow, 0, len(jobs))
		for _, job := range jobs {
			sub, err := st.GetSubmittedURL(ctx, job.SubmittedURLID)
			if err != nil {
				return browseLoadedMsg{err: err}
			}
			rows = append(rows, browseRow{Job: job, URL: sub})
		}
		summary, err := st.Summary(ctx)
		if err != nil {
			return browseLoadedMsg{err: err}
		}
		return browseLoadedMsg{rows: rows, summary: summary}
	}
}

func submitURLCmd(st *store.Store, raw string) tea.Cmd {
	return func() tea.Msg {
		cls, err := classify.Classify(raw)
		if err != nil {
			return browseSubmitMsg{err: err}
		}
		ctx := context.Background()
		sub, _, err := st.FindOrCreateSubmittedURL(ctx, raw, cls)
		if err != nil {
			return browseSubmitMsg{err: err}
		}
		job, queued, err := queueJobForURL(ctx, st, sub.ID)
		if err != nil {
			return browseSubmitMsg{err: err}
		}
		if !queued {
			return browseSubmitMsg{message: fmt.Sprintf("job %s already %s for that URL", shortID(job.ID), job.Status)}
		}
		return browseSubmitMsg{message: "job queued: " + shortID(job.ID)}
	}
}

func cancelJobCmd(st *store.Store, jobID string) tea.Cmd {
	return func() tea.Msg {
		if err := st.TransitionJob(context.Background(), jobID, model.JobCancelled, "cancelled by operator"); err != nil {
			return browseCancelMsg{err: err}
		}
		return browseCancelMsg{message: "job cancelled: " + shortID(jobID)}
	}
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = clampInt(m.width-10, 20, 120)
		return m, nil
	case browseLoadedMsg:
		if msg.err != nil {
			m.fatalErr = msg.err
			return m, tea.Quit
		}
		m.rows = msg.rows
		m.summary = msg.summary
		if len(m.rows) == 0 {
			m.cursor = 0
		} else if m.cursor > len(m.rows)-1 {
			m.cursor = len(m.rows) - 1
		}
		return m, nil
	case browseSubmitMsg:
		if msg.err != nil {
			m.inputErr = msg.err.Error()
			return m, nil
		}
		m.mode = browseModeList
		m.inputErr = ""
		m.statusMessage = msg.message
		return m, loadJobsCmd(m.st)
	case browseCancelMsg:
		m.mode = browseModeList
		m.confirmCancelID = ""
		if msg.err != nil {
			m.statusMessage = "error: " + msg.err.Error()
			return m, nil
		}
		m.statusMessage = msg.message
		return m, loadJobsCmd(m.st)
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch m.mode {
	case browseModeSubmit:
		return m.updateSubmit(keyMsg)
	case browseModeCancelConfirm:
		return m.updateCancelConfirm(keyMsg)
	default:
		return m.updateList(keyMsg)
	}
}

func (m browseModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
		return m, nil
	case "r":
		m.statusMessage = ""
		return m, loadJobsCmd(m.st)
	case "n":
		input := textinput.New()
		input.Prompt = "> "
		input.Placeholder = "https://www.youtube.com/..."
		input.CharLimit = 1024
		input.Width = clampInt(m.width-10, 20, 120)
		input.Focus()
		m.input = input
		m.inputErr = ""
		m.statusMessage = ""
		m.mode = browseModeSubmit
		return m, nil
	case "c":
		if len(m.rows) == 0 || m.cursor >= len(m.rows) {
			return m, nil
		}
		job := m.rows[m.cursor].Job
		if model.JobStatusTerminal(job.Status) {
			m.statusMessage = fmt.Sprintf("job %s is already %s", shortID(job.ID), job.Status)
			return m, nil
		}
		m.confirmCancelID = job.ID
		m.mode = browseModeCancelConfirm
		return m, nil
	}
	return m, nil
}

func (m browseModel) updateSubmit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.mode = browseModeList
		m.inputErr = ""
		m.statusMessage = "submit cancelled"
		return m, nil
	case "enter":
		raw := strings.TrimSpace(m.input.Value())
		if raw == "" {
			m.inputErr = "URL is required"
			return m, nil
		}
		return m, submitURLCmd(m.st, raw)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m browseModel) updateCancelConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc", "n":
		m.mode = browseModeList
		m.confirmCancelID = ""
		m.statusMessage = "cancel aborted"
		return m, nil
	case "y", "enter":
		jobID := m.confirmCancelID
		if jobID == "" {
			m.mode = browseModeList
			return m, nil
		}
		return m, cancelJobCmd(m.st, jobID)
	}
	return m, nil
}

func (m browseModel) View() string {
	if m.fatalErr != nil {
		return browseErrorStyle.Render("fatal: "+m.fatalErr.Error()) + "\n"
	}
	if m.width <= 0 {
		m.width = 100
	}
	if m.height <= 0 {
		m.height = 30
	}
	switch m.mode {
	case browseModeSubmit:
		return m.viewSubmit()
	case browseModeCancelConfirm:
		return m.viewCancelConfirm()
	default:
		return m.viewList()
	}
}

func (m browseModel) viewList() string {
	header := browseTitleStyle.Render("yt-ingest browse") + "\n" +
		browseMutedStyle.Render("up/down: move | n: submit URL | c: cancel job | r: refresh | q: quit")

	var body string
	if m.width < 90 {
		list := m.renderListPanel(maxInt(m.width-2, 40))
		details := m.renderDetailsPanel(maxInt(m.width-2, 40))
		body = lipgloss.JoinVertical(lipgloss.Left, list, details)
	} else {
		leftW := clampInt(m.width/2, 44, 60)
		rightW := maxInt(m.width-leftW-2, 40)
		list := m.renderListPanel(leftW)
		details := m.renderDetailsPanel(rightW)
		body = lipgloss.JoinHorizontal(lipgloss.Top, list, details)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderStatusLine())
}

func (m browseModel) renderListPanel(width int) string {
	total := len(m.rows)
	maxRows := clampInt(m.height-12, 4, 24)

	lines := make([]string, 0, maxRows+4)
	lines = append(lines, browseMutedStyle.Render(fmt.Sprintf(
		"%d urls | stored %s", m.summary.URLs, formatBytesIEC(m.summary.StoredBytes))))
	if total == 0 {
		lines = append(lines, "No jobs yet.")
		lines = append(lines, browseMutedStyle.Render("Press n to submit a YouTube URL."))
	} else {
		start, end := listWindow(total, m.cursor, maxRows)
		if start > 0 {
			lines = append(lines, browseMutedStyle.Render("..."))
		}
		for i := start; i < end; i++ {
			row := m.rows[i]
			line := fmt.Sprintf("%s %-10s %3d%% %s",
				shortID(row.Job.ID), row.Job.Status, row.Job.ProgressPercent, row.URL.Kind)
			line = truncateRunes(line, maxInt(width-4, 12))
			if i == m.cursor {
				line = browseSelStyle.Width(maxInt(width-4, 12)).Render(line)
			}
			lines = append(lines, line)
		}
		if end < total {
			lines = append(lines, browseMutedStyle.Render("..."))
		}
	}
	return browsePanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m browseModel) renderDetailsPanel(width int) string {
	var lines []string
	if len(m.rows) == 0 || m.cursor >= len(m.rows) {
		lines = append(lines, "No job selected.")
	} else {
		row := m.rows[m.cursor]
		lines = append(lines,
			kv("job_id", row.Job.ID),
			kv("status", row.Job.Status),
			kv("progress", fmt.Sprintf("%d%% (%d/%d)", row.Job.ProgressPercent, row.Job.VideosProcessed, row.Job.VideosFound)),
		)
		if row.Job.ErrorMessage != "" {
			lines = append(lines, kv("error", row.Job.ErrorMessage))
		}
		lines = append(lines, kv("created_at", row.Job.CreatedAt))
		if row.Job.StartedAt != "" {
			lines = append(lines, kv("started_at", row.Job.StartedAt))
		}
		if row.Job.CompletedAt != "" {
			lines = append(lines, kv("completed_at", row.Job.CompletedAt))
		}
		lines = append(lines, "", kv("url_id", row.URL.ID), kv("kind", row.URL.Kind), kv("canonical", row.URL.NormalizedURL))
		if row.URL.Title != "" {
			lines = append(lines, kv("title", row.URL.Title))
		}
	}
	for i := range lines {
		lines[i] = wrapOrTrim(lines[i], maxInt(width-4, 12))
	}
	return browsePanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m browseModel) renderStatusLine() string {
	msg := strings.TrimSpace(m.statusMessage)
	if msg == "" {
		return browseMutedStyle.Render("Submissions queue instantly; run `yt-ingest worker` to process them.")
	}
	style := browseOKStyle
	if strings.HasPrefix(msg, "error:") {
		style = browseErrorStyle
	}
	return style.Render(truncateRunes(msg, maxInt(m.width-2, 20)))
}

func (m browseModel) viewSubmit() string {
	header := browseTitleStyle.Render("Submit URL") + "\n" +
		browseMutedStyle.Render("enter: submit | esc: back")

	body := "YouTube video, playlist, channel or user URL:\n\n" + m.input.View()
	if strings.TrimSpace(m.inputErr) != "" {
		body += "\n\n" + browseErrorStyle.Render(wrapOrTrim("error: "+m.inputErr, maxInt(m.width-8, 20)))
	}
	panel := browsePanelStyle.Width(clampInt(m.width-2, 44, 120)).Render(body)
	return lipgloss.JoinVertical(lipgloss.Left, header, panel)
}

func (m browseModel) viewCancelConfirm() string {
	text := fmt.Sprintf(
		"Cancel job %s?\n\nA worker mid-job finishes its current video, then stops.\nStored videos are kept.\n\ny/enter: confirm | n/esc: back",
		shortID(m.confirmCancelID),
	)
	panel := browsePanelStyle.Width(clampInt(m.width-8, 44, 72)).Render(text)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, panel)
}
