package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/imkarma/drover/internal/approval"
	"github.com/imkarma/drover/internal/store"
	"github.com/imkarma/drover/internal/transition"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// If popup is active, handle popup keys first.
		if m.popup != popupNone {
			return m.handlePopupKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vw := m.width - 4
		vh := m.height - 6
		if vw < 20 {
			vw = 20
		}
		if vh < 6 {
			vh = 6
		}
		m.detailViewport.Width = vw
		m.detailViewport.Height = vh
		return m, nil

	case boardLoadedMsg:
		m.refreshing = false
		if msg.err != nil {
			m.setStatus("Failed to load backlog: " + msg.err.Error())
			return m, nil
		}
		m.columns = msg.columns
		m.warnings = msg.warnings
		m.clampCursor()
		// Keep the detail screen in step with the reloaded task.
		if m.screen == screenDetail && m.detail != nil {
			if c := m.findCard(m.detail.Task.ID); c != nil {
				m.detail = c
				m.detailViewport.SetContent(renderDetail(*c))
			}
		}
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.setStatus("Failed: " + msg.err.Error())
		} else {
			m.setStatus(msg.status)
		}
		return m, m.loadBoard()

	case tickMsg:
		cmds := []tea.Cmd{tickCmd()}
		if m.statusMsg != "" && time.Since(m.statusTime) > refreshInterval {
			m.statusMsg = ""
		}
		if !m.refreshing && m.popup == popupNone {
			m.refreshing = true
			cmds = append(cmds, m.loadBoard())
		}
		return m, tea.Batch(cmds...)
	}

	if m.screen == screenDetail {
		var cmd tea.Cmd
		m.detailViewport, cmd = m.detailViewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.screen == screenBoard || msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		return m.goBack()

	case "esc", "backspace":
		return m.goBack()
	}

	switch m.screen {
	case screenBoard:
		return m.handleBoardKey(msg)
	case screenDetail:
		return m.handleDetailKey(msg)
	}
	return m, nil
}

func (m Model) goBack() (tea.Model, tea.Cmd) {
	if m.screen == screenDetail {
		m.screen = screenBoard
		m.detail = nil
	}
	return m, nil
}

// --- Board keys ---

func (m Model) handleBoardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		m.cursorRow++
		m.clampCursor()
	case "k", "up":
		m.cursorRow--
		m.clampCursor()
	case "h", "left":
		m.cursorCol--
		m.clampCursor()
	case "l", "right":
		m.cursorCol++
		m.clampCursor()

	case "enter", " ":
		if c := m.selectedCard(); c != nil {
			m.detail = c
			m.detailViewport.SetContent(renderDetail(*c))
			m.detailViewport.GotoTop()
			m.screen = screenDetail
		}

	case "a":
		return m.openApprove(m.selectedCard())
	case "r":
		return m.openResolve(m.selectedCard())

	case "R":
		m.refreshing = true
		return m, m.loadBoard()
	}
	return m, nil
}

// --- Detail keys ---

func (m Model) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "a":
		return m.openApprove(m.detail)
	case "r":
		return m.openResolve(m.detail)
	}

	var cmd tea.Cmd
	m.detailViewport, cmd = m.detailViewport.Update(msg)
	return m, cmd
}

func (m Model) openApprove(c *card) (tea.Model, tea.Cmd) {
	if c == nil || !c.Task.Status.Is(store.StatusReview) {
		m.setStatus("Only Review tasks can be approved")
		return m, nil
	}
	m.popupTaskID = c.Task.ID
	m.popup = popupConfirmApprove
	return m, nil
}

func (m Model) openResolve(c *card) (tea.Model, tea.Cmd) {
	if c == nil || !c.Task.Status.Is(store.StatusReview) {
		m.setStatus("Only Review tasks can be resolved")
		return m, nil
	}
	m.popupTaskID = c.Task.ID
	m.popup = popupResolve
	m.textInput.Reset()
	m.textInput.Focus()
	return m, textinput.Blink
}

// --- Popup keys ---

func (m Model) handlePopupKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.popup {
	case popupResolve:
		return m.handleResolvePopup(msg)
	case popupConfirmApprove:
		return m.handleConfirmApprovePopup(msg)
	}
	return m, nil
}

func (m Model) handleResolvePopup(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.popup = popupNone
		m.textInput.Blur()
		return m, nil
	case "enter":
		decision := m.textInput.Value()
		if decision == "" {
			m.setStatus("Decision cannot be empty")
			return m, nil
		}
		m.popup = popupNone
		m.textInput.Blur()
		return m, m.doResolve(m.popupTaskID, decision)
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m Model) handleConfirmApprovePopup(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "enter":
		m.popup = popupNone
		return m, m.doApprove(m.popupTaskID)
	case "n", "esc":
		m.popup = popupNone
	}
	return m, nil
}

// --- Actions ---

func (m Model) doApprove(id string) tea.Cmd {
	return func() tea.Msg {
		snap, err := m.store.Load()
		if err != nil {
			return actionDoneMsg{err: err}
		}
		res, err := approval.BatchApprove(snap, m.transitions, approval.Request{
			From:      store.StatusReview,
			To:        store.StatusTodo,
			Predicate: approval.Any,
			IDs:       []string{id},
			Comment:   "approved from board",
		})
		if err != nil {
			return actionDoneMsg{err: err}
		}
		if res.Count() == 0 {
			return actionDoneMsg{err: fmt.Errorf("%s is no longer in Review", id)}
		}
		if err := transition.Persist(m.store, snap); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{status: "Approved " + id + ", back in Todo"}
	}
}

func (m Model) doResolve(id, decision string) tea.Cmd {
	return func() tea.Msg {
		snap, err := m.store.Load()
		if err != nil {
			return actionDoneMsg{err: err}
		}
		_, err = approval.Resolve(snap, m.transitions, approval.Resolution{
			TaskID:   id,
			Decision: decision,
			Reopen:   true,
		})
		if err != nil {
			return actionDoneMsg{err: err}
		}
		if err := transition.Persist(m.store, snap); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{status: "Resolved " + id}
	}
}
