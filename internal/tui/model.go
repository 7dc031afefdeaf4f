package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"faqrag/internal/domain"
	"faqrag/internal/service"
	"faqrag/internal/textproc"
)

// AssistantPort is the TUI-facing subset of the RAG service.
type AssistantPort interface {
	AnswerQuestion(ctx context.Context, question string, useAdaptor bool) (domain.QueryResponse, error)
	SubmitFeedback(ctx context.Context, req service.FeedbackRequest) (service.FeedbackResult, error)
}

type answerMsg struct {
	question string
	resp     domain.QueryResponse
	err      error
}

type feedbackMsg struct {
	rating int
	res    service.FeedbackResult
	err    error
}

// Model is the Bubble Tea model for the interactive assistant.
type Model struct {
	ctx        context.Context
	service    AssistantPort
	input      textinput.Model
	viewport   viewport.Model
	resp       *domain.QueryResponse
	question   string
	header     string
	status     string
	cursor     int
	useAdaptor bool
	busy       bool
	rated      bool
	ready      bool
}

// New creates a TUI model. header is shown under the title, typically the
// index size.
func New(ctx context.Context, svc AssistantPort, header string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:        ctx,
		service:    svc,
		input:      ti,
		viewport:   vp,
		header:     header,
		useAdaptor: true,
		status:     "Ready. Tab toggles the adaptor, 1-5 rates the last answer.",
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(q string) tea.Cmd {
	useAdaptor := m.useAdaptor
	return func() tea.Msg {
		resp, err := m.service.AnswerQuestion(m.ctx, q, useAdaptor)
		return answerMsg{question: q, resp: resp, err: err}
	}
}

func (m Model) rate(rating int) tea.Cmd {
	req := service.FeedbackRequest{QueryID: m.resp.QueryID, Rating: rating, Question: m.question}
	for _, s := range m.resp.Sources {
		req.Sources = append(req.Sources, s.SourceLabel)
	}
	return func() tea.Msg {
		res, err := m.service.SubmitFeedback(m.ctx, req)
		return feedbackMsg{rating: rating, res: res, err: err}
	}
}

// Update handles key, window and service events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // title, header, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.render())
		return m, nil

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.resp = nil
		} else {
			m.resp = &msg.resp
			m.question = msg.question
			m.cursor = 0
			m.rated = false
			m.status = m.answerStatus()
		}
		m.viewport.SetContent(m.render())
		return m, nil

	case feedbackMsg:
		if msg.err != nil {
			m.status = "Feedback failed: " + msg.err.Error()
			return m, nil
		}
		m.rated = true
		m.status = fmt.Sprintf("Rated %d. Thanks!", msg.rating)
		if msg.res.TrainingStarted {
			m.status += " Adaptor training started."
		} else if msg.res.TriggerTraining {
			m.status += " Training already running."
		}
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch key := msg.String(); key {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.input.SetValue("")
			m.status = fmt.Sprintf("Thinking about %q...", q)
			return m, m.ask(q)
		case "tab":
			m.useAdaptor = !m.useAdaptor
			m.status = fmt.Sprintf("Adaptor %s for the next question.", onOff(m.useAdaptor))
			return m, nil
		case "down":
			if m.resp != nil && len(m.resp.Sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.resp.Sources)
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "up":
			if m.resp != nil && len(m.resp.Sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.resp.Sources)) % len(m.resp.Sources)
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "1", "2", "3", "4", "5":
			// digits rate only while the prompt is empty
			if m.resp != nil && !m.rated && m.input.Value() == "" {
				return m, m.rate(int(key[0] - '0'))
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := lipgloss.NewStyle().Bold(true).Render("FAQ Assistant")
	header := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.header)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return title + "\n" + header + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) answerStatus() string {
	s := fmt.Sprintf("confidence=%.2f", m.resp.Confidence)
	if m.resp.UseAdaptor && m.resp.AdaptorVersion > 0 {
		s += fmt.Sprintf("  adaptor=v%d", m.resp.AdaptorVersion)
	} else {
		s += "  adaptor=off"
	}
	if m.resp.Fallback {
		s += "  (fallback)"
	}
	return s + "  rate with 1-5"
}

func (m Model) render() string {
	if m.resp == nil {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(answerStyle.Render(m.resp.Answer))
	b.WriteString("\n\n")
	if len(m.resp.Sources) == 0 {
		b.WriteString("No sources.")
		return b.String()
	}
	src := m.resp.Sources[m.cursor]
	fmt.Fprintf(&b, "Source %d/%d  %s  score=%.3f\n\n", m.cursor+1, len(m.resp.Sources), src.SourceLabel, src.BestScore())
	b.WriteString(highlightBestSentence(src.Text, m.question))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	answerStyle    = lipgloss.NewStyle().Bold(true)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// highlightBestSentence emphasises the sentence sharing the most terms
// with query.
func highlightBestSentence(text, query string) string {
	sentences := textproc.Sentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	qTerms := textproc.TermSet(query)
	if len(qTerms) == 0 {
		return strings.Join(sentences, " ")
	}
	best, bestScore := 0, -1
	for i, s := range sentences {
		score := 0
		for t := range textproc.TermSet(s) {
			if _, ok := qTerms[t]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	out := make([]string, len(sentences))
	for i, s := range sentences {
		s = strings.TrimSpace(s)
		if i == best {
			s = highlightStyle.Render(s)
		}
		out[i] = s
	}
	return strings.Join(out, " ")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
