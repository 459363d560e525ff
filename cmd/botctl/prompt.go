package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff6ec7"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#05ffa1")).Padding(0, 1)
)

// answerModel asks for one line of text; enter submits, esc cancels.
type answerModel struct {
	title    string
	details  []string
	input    textinput.Model
	answer   string
	canceled bool
}

func newAnswerModel(title string, details []string) answerModel {
	input := textinput.New()
	input.Prompt = "❯ "
	input.Placeholder = "answer"
	input.CharLimit = 512
	input.Focus()
	return answerModel{title: title, details: details, input: input}
}

func (m answerModel) Init() tea.Cmd { return textinput.Blink }

func (m answerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.canceled = true
			return m, tea.Quit
		case tea.KeyEnter:
			v := strings.TrimSpace(m.input.Value())
			if v == "" {
				return m, nil
			}
			m.answer = v
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m answerModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	for _, d := range m.details {
		b.WriteString(d)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter submit • esc cancel"))
	b.WriteString("\n")
	return b.String()
}

// promptAnswer runs the interactive prompt. ok is false when the operator cancelled.
func promptAnswer(title string, details []string) (answer string, ok bool, err error) {
	final, err := tea.NewProgram(newAnswerModel(title, details)).Run()
	if err != nil {
		return "", false, err
	}
	m := final.(answerModel)
	if m.canceled {
		return "", false, nil
	}
	return m.answer, true, nil
}

func label(k, v string) string {
	return labelStyle.Render(k+":") + " " + v
}
