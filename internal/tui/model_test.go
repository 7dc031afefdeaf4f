package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faqrag/internal/domain"
	"faqrag/internal/service"
)

type fakeAssistant struct {
	asked      []string
	useAdaptor []bool
	feedback   []service.FeedbackRequest
	err        error
}

func (f *fakeAssistant) AnswerQuestion(_ context.Context, q string, useAdaptor bool) (domain.QueryResponse, error) {
	f.asked = append(f.asked, q)
	f.useAdaptor = append(f.useAdaptor, useAdaptor)
	if f.err != nil {
		return domain.QueryResponse{}, f.err
	}
	return domain.QueryResponse{
		QueryID:    "q-1",
		Answer:     "Refunds take five days.",
		Confidence: 0.8,
		UseAdaptor: useAdaptor,
		Sources: []domain.Candidate{
			{ChunkID: "a", SourceLabel: "faq.md #1", Text: "Shipping is free. Refunds take five days.", VectorScore: 0.9},
			{ChunkID: "b", SourceLabel: "faq.md #2", Text: "Passwords reset by email.", VectorScore: 0.2},
		},
	}, nil
}

func (f *fakeAssistant) SubmitFeedback(_ context.Context, req service.FeedbackRequest) (service.FeedbackResult, error) {
	f.feedback = append(f.feedback, req)
	return service.FeedbackResult{FeedbackID: "fb", TriggerTraining: true, TrainingStarted: true}, nil
}

// send delivers msg and, for keys that reach the service, runs the
// returned command and delivers its result. Other commands are cursor
// blink ticks and are dropped.
func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil || !reachesService(msg) {
		return m
	}
	switch out := cmd().(type) {
	case answerMsg, feedbackMsg:
		next, _ = m.Update(out)
		m = next.(Model)
	}
	return m
}

func reachesService(msg tea.Msg) bool {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return false
	}
	switch k.String() {
	case "enter", "1", "2", "3", "4", "5":
		return true
	}
	return false
}

func typeText(t *testing.T, m Model, s string) Model {
	for _, r := range s {
		m = send(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func TestAskAndRate(t *testing.T) {
	svc := &fakeAssistant{}
	m := New(context.Background(), svc, "2 chunks")
	m = send(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m = typeText(t, m, "refund time")
	m = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	require.Equal(t, []string{"refund time"}, svc.asked)
	assert.Equal(t, []bool{true}, svc.useAdaptor)
	require.NotNil(t, m.resp)
	assert.Contains(t, m.status, "confidence=0.80")
	assert.Contains(t, m.View(), "faq.md #1")

	m = send(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.cursor)
	m = send(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m.cursor)

	m = send(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'5'}})
	require.Len(t, svc.feedback, 1)
	fb := svc.feedback[0]
	assert.Equal(t, "q-1", fb.QueryID)
	assert.Equal(t, 5, fb.Rating)
	assert.Equal(t, []string{"faq.md #1", "faq.md #2"}, fb.Sources)
	assert.Contains(t, m.status, "training started")

	// one rating per answer
	m = send(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'4'}})
	assert.Len(t, svc.feedback, 1)
	assert.Equal(t, "4", m.input.Value())
}

func TestAdaptorToggle(t *testing.T) {
	svc := &fakeAssistant{}
	m := New(context.Background(), svc, "")
	m = send(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = typeText(t, m, "hello")
	send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, []bool{false}, svc.useAdaptor)
}

func TestAskError(t *testing.T) {
	svc := &fakeAssistant{err: errors.New("index unavailable")}
	m := New(context.Background(), svc, "")
	m = typeText(t, m, "x")
	m = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, m.resp)
	assert.True(t, strings.HasPrefix(m.status, "Error:"))
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("Shipping is free. Refunds take five days.", "how long do refunds take")
	assert.Contains(t, out, "Shipping is free.")
	assert.Contains(t, out, "Refunds take five days.")
	assert.Equal(t, "plain", highlightBestSentence("plain", ""))
}
