package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/store"
	"github.com/imkarma/drover/internal/transition"
)

// screen represents which screen the TUI is showing.
type screen int

const (
	screenBoard  screen = iota // Four status columns (main)
	screenDetail               // One task's comments and changes
)

// popup is a modal dialog drawn over the current screen.
type popup int

const (
	popupNone popup = iota
	popupResolve
	popupConfirmApprove
)

// column indices for navigation
const (
	colTodo       = 0
	colInProgress = 1
	colReview     = 2
	colDone       = 3
	numColumns    = 4
)

var columnStatuses = [numColumns]store.Status{
	store.StatusTodo,
	store.StatusInProgress,
	store.StatusReview,
	store.StatusDone,
}

var columnLabels = [numColumns]string{
	"TODO",
	"IN PROGRESS",
	"REVIEW",
	"DONE",
}

const refreshInterval = 5 * time.Second

// card is a task on the board together with what the classifier makes of it.
type card struct {
	Task     store.Task
	Result   classify.Result
	Question string
}

// Model is the top-level bubbletea model.
type Model struct {
	store       *store.Store
	classifier  *classify.Classifier
	transitions *transition.Manager

	width  int
	height int

	screen screen
	popup  popup

	// Board state.
	columns   [numColumns][]card
	cursorCol int
	cursorRow int
	warnings  int

	// Task the open popup or detail screen is about.
	popupTaskID string
	detail      *card

	textInput      textinput.Model
	detailViewport viewport.Model

	statusMsg  string
	statusTime time.Time
	refreshing bool
	quitting   bool
}

// New creates a board over the backlog in s.
func New(s *store.Store, c *classify.Classifier) Model {
	ti := textinput.New()
	ti.Placeholder = "Your decision..."
	ti.CharLimit = 500
	ti.Width = 50

	return Model{
		store:          s,
		classifier:     c,
		transitions:    transition.NewManager(),
		screen:         screenBoard,
		textInput:      ti,
		detailViewport: viewport.New(80, 20),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadBoard(), tickCmd())
}

type boardLoadedMsg struct {
	columns  [numColumns][]card
	warnings int
	err      error
}

// actionDoneMsg reports the outcome of a write to the backlog.
type actionDoneMsg struct {
	status string
	err    error
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) loadBoard() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.store.Load()
		if err != nil {
			return boardLoadedMsg{err: err}
		}
		return boardLoadedMsg{columns: m.buildColumns(snap), warnings: len(snap.Warnings())}
	}
}

func (m Model) buildColumns(snap *store.Snapshot) [numColumns][]card {
	var cols [numColumns][]card
	for i, status := range columnStatuses {
		for _, t := range snap.ByStatus(status) {
			c := card{Task: t}
			switch status {
			case store.StatusTodo:
				c.Result = m.classifier.Classify(t)
			case store.StatusReview:
				c.Question, _ = classify.Clarification(t)
				if m.classifier.WouldBeInteractive(t) {
					c.Result = classify.Result{Verdict: classify.Interactive}
				} else {
					c.Result = classify.Result{Verdict: classify.Background}
				}
			}
			cols[i] = append(cols[i], c)
		}
	}
	return cols
}

func (m *Model) setStatus(msg string) {
	m.statusMsg = msg
	m.statusTime = time.Now()
}

func (m *Model) clampCursor() {
	if m.cursorCol < 0 {
		m.cursorCol = 0
	}
	if m.cursorCol >= numColumns {
		m.cursorCol = numColumns - 1
	}
	col := m.columns[m.cursorCol]
	if m.cursorRow >= len(col) {
		m.cursorRow = len(col) - 1
	}
	if m.cursorRow < 0 {
		m.cursorRow = 0
	}
}

func (m Model) selectedCard() *card {
	col := m.columns[m.cursorCol]
	if m.cursorRow < len(col) {
		c := col[m.cursorRow]
		return &c
	}
	return nil
}

func (m Model) findCard(id string) *card {
	for _, col := range m.columns {
		for i := range col {
			if col[i].Task.ID == id {
				c := col[i]
				return &c
			}
		}
	}
	return nil
}
