// Package tui is the interactive console over a draft.Machine.
//
// The machine publishes views from whatever goroutine changed it; Run
// forwards them into the bubbletea loop as viewMsg values. Actions run as
// tea.Cmds and report back with actionMsg.
package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"xynconsole/internal/domain"
	"xynconsole/internal/draft"
	"xynconsole/internal/submit"
)

const actionTimeout = 30 * time.Second

type screen int

const (
	screenList screen = iota
	screenDetail
	screenRevisions
	screenInput
	screenEditor
)

type inputTarget int

const (
	inputNewSession inputTarget = iota
	inputTitle
	inputNamespace
	inputProjectKey
	inputInstruction
	inputSnapshot
	inputSubmit
	inputSearch
	inputArtifact
)

type editorTarget int

const (
	editPrompt editorTarget = iota
	editDraft
)

type viewMsg draft.View

type actionMsg struct {
	notice string
	err    error
	// next screen on success; screenList when nothing is selected afterwards
	next screen
}

type sessionItem struct {
	s domain.DraftSession
}

func (i sessionItem) Title() string { return i.s.Title }
func (i sessionItem) Description() string {
	target := strings.Trim(i.s.Namespace+"/"+i.s.ProjectKey, "/")
	if target == "" {
		target = "-"
	}
	return fmt.Sprintf("%s · %s · %s", i.s.Kind, i.s.Status, target)
}
func (i sessionItem) FilterValue() string { return i.s.Title }

// Model is the bubbletea model of the console.
type Model struct {
	machine *draft.Machine
	log     *log.Logger

	view   draft.View
	screen screen
	back   screen

	sessions  list.Model
	input     textinput.Model
	inputFor  inputTarget
	editor    textarea.Model
	editorFor editorTarget
	spinner   spinner.Model

	busy           bool
	notice         string
	err            error
	confirmDiscard bool

	width  int
	height int
}

// New builds the model. Run wires the machine's change feed into it.
func New(machine *draft.Machine, logger *log.Logger) *Model {
	if logger == nil {
		logger = log.Default()
	}
	sessions := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	sessions.Title = "Draft sessions"
	sessions.SetShowStatusBar(false)
	sessions.SetShowHelp(false)

	in := textinput.New()
	in.CharLimit = 400
	ed := textarea.New()
	ed.ShowLineNumbers = false
	ed.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = accentStyle

	return &Model{
		machine:  machine,
		log:      logger,
		view:     machine.View(),
		sessions: sessions,
		input:    in,
		editor:   ed,
		spinner:  sp,
	}
}

// Run starts the console and blocks until the user quits.
func Run(machine *draft.Machine, logger *log.Logger) error {
	m := New(machine, logger)
	p := tea.NewProgram(m, tea.WithAltScreen())
	unsubscribe := machine.OnChange(func(v draft.View) {
		go p.Send(viewMsg(v))
	})
	defer unsubscribe()
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh())
}

func (m *Model) refresh() tea.Cmd {
	filter := m.view.Filter
	return m.run("", screenList, func(ctx context.Context) error {
		_, err := m.machine.List(ctx, filter)
		return err
	})
}

// run executes fn off the update loop.
func (m *Model) run(notice string, next screen, fn func(ctx context.Context) error) tea.Cmd {
	m.busy = true
	m.err = nil
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionMsg{notice: notice, err: fn(ctx), next: next}
	}
}

func (m *Model) applyView(v draft.View) {
	if v.Version < m.view.Version {
		return
	}
	m.view = v
	items := make([]list.Item, 0, len(v.Sessions))
	for _, s := range v.Sessions {
		items = append(items, sessionItem{s: s})
	}
	m.sessions.SetItems(items)
	if !v.HasSession && (m.screen == screenDetail || m.screen == screenRevisions) {
		m.screen = screenList
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.sessions.SetSize(msg.Width-4, max(5, msg.Height-8))
		m.input.Width = max(20, msg.Width-10)
		m.editor.SetWidth(max(20, msg.Width-6))
		m.editor.SetHeight(max(5, msg.Height-10))
		return m, nil

	case viewMsg:
		m.applyView(draft.View(msg))
		return m, nil

	case actionMsg:
		m.handleAction(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.screen {
		case screenList:
			return m.updateList(msg)
		case screenDetail:
			return m.updateDetail(msg)
		case screenRevisions:
			return m.updateRevisions(msg)
		case screenInput:
			return m.updateInput(msg)
		case screenEditor:
			return m.updateEditor(msg)
		}
	}
	return m, nil
}

func (m *Model) handleAction(msg actionMsg) {
	m.busy = false
	m.applyView(m.machine.View())
	var discard *draft.DiscardHashError
	switch {
	case msg.err == nil:
		m.confirmDiscard = false
		if msg.notice != "" {
			m.notice = msg.notice
		}
		if msg.next == screenList || m.view.HasSession {
			m.screen = msg.next
		}
	case errors.As(msg.err, &discard):
		m.confirmDiscard = true
		m.notice = "press c again to discard the resolved context"
	default:
		m.confirmDiscard = false
		m.err = msg.err
		m.log.Printf("action failed: %v", msg.err)
	}
	if !m.view.HasSession && m.screen != screenList && m.screen != screenInput {
		m.screen = screenList
	}
}

func (m *Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.sessions.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.sessions, cmd = m.sessions.Update(msg)
		return m, cmd
	}
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "r":
		return m, m.refresh()
	case "n":
		return m, m.openInput(inputNewSession, "Title of the new draft", "")
	case "enter":
		item, ok := m.sessions.SelectedItem().(sessionItem)
		if !ok {
			return m, nil
		}
		id := item.s.ID
		return m, m.run("", screenDetail, func(ctx context.Context) error {
			return m.machine.Select(ctx, id)
		})
	case "d":
		item, ok := m.sessions.SelectedItem().(sessionItem)
		if !ok {
			return m, nil
		}
		id := item.s.ID
		return m, m.run("deleted "+item.s.Title, screenList, func(ctx context.Context) error {
			return m.machine.Delete(ctx, id)
		})
	}
	var cmd tea.Cmd
	m.sessions, cmd = m.sessions.Update(msg)
	return m, cmd
}

func (m *Model) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	s := m.view.Session
	switch msg.String() {
	case "esc", "q":
		m.machine.Deselect()
		m.screen = screenList
		m.applyView(m.machine.View())
		return m, nil
	case "!":
		m.err = nil
		m.machine.DismissError()
		return m, nil
	case "g":
		return m, m.run("generation queued", screenDetail, m.machine.Generate)
	case "v":
		return m, m.openInput(inputInstruction, "Revision instruction", m.view.Instruction)
	case "t":
		m.machine.Focus(draft.FieldTitle)
		return m, m.openInput(inputTitle, "Title", s.Title)
	case "N":
		m.machine.Focus(draft.FieldNamespace)
		return m, m.openInput(inputNamespace, "Namespace", s.Namespace)
	case "P":
		m.machine.Focus(draft.FieldProjectKey)
		return m, m.openInput(inputProjectKey, "Project key", s.ProjectKey)
	case "A":
		m.machine.Focus(draft.FieldSourceArtifacts)
		return m, m.openInput(inputArtifact, "Source artifact text", "")
	case "k":
		kind := domain.KindSolution
		if s.Kind == domain.KindSolution {
			kind = domain.KindBlueprint
		}
		if err := m.machine.SetKind(kind); err != nil {
			m.err = err
			return m, nil
		}
		return m, m.run("kind set to "+kind, screenDetail, m.machine.SaveMetadata)
	case "x":
		m.machine.SetGenerateCode(!m.view.GenerateCode)
		return m, nil
	case "p":
		m.machine.Focus(draft.FieldPrompt)
		return m, m.openEditor(editPrompt, s.InitialPrompt)
	case "e":
		return m, m.openEditor(editDraft, prettyJSON(s.Draft))
	case "s":
		return m, m.openInput(inputSnapshot, "Snapshot note", "")
	case "c":
		confirm := m.confirmDiscard
		return m, m.run("context resolved", screenDetail, func(ctx context.Context) error {
			return m.machine.ResolveContext(ctx, confirm)
		})
	case "D":
		return m, m.run("defaults refreshed", screenDetail, func(ctx context.Context) error {
			_, err := m.machine.RefreshDefaults(ctx)
			return err
		})
	case "a":
		return m, m.run("recommended packs applied; press w to save", screenDetail, func(ctx context.Context) error {
			if _, err := m.machine.RefreshDefaults(ctx); err != nil {
				return err
			}
			return m.machine.ApplyRecommended()
		})
	case "w":
		return m, m.run("saved", screenDetail, m.machine.SaveMetadata)
	case "u":
		return m, m.openInput(inputSubmit, "Submit target as namespace/name", strings.Trim(s.Namespace+"/"+s.ProjectKey, "/"))
	case "h":
		return m, m.run("", screenRevisions, func(ctx context.Context) error {
			_, err := m.machine.RevisionPage(ctx, 1)
			return err
		})
	}
	return m, nil
}

func (m *Model) updateRevisions(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	page := func(call func(ctx context.Context) error) tea.Cmd {
		return m.run("", screenRevisions, call)
	}
	switch msg.String() {
	case "esc", "q":
		m.screen = screenDetail
		return m, nil
	case "n", "right":
		return m, page(func(ctx context.Context) error {
			_, err := m.machine.NextRevisions(ctx)
			return err
		})
	case "p", "left":
		return m, page(func(ctx context.Context) error {
			_, err := m.machine.PrevRevisions(ctx)
			return err
		})
	case "/":
		return m, m.openInput(inputSearch, "Search revisions", m.view.Revisions.Q)
	}
	return m, nil
}

func (m *Model) openInput(target inputTarget, placeholder, value string) tea.Cmd {
	m.back = m.screen
	m.screen = screenInput
	m.inputFor = target
	m.input.Placeholder = placeholder
	m.input.Prompt = placeholder + ": "
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m.input.Focus()
}

func (m *Model) openEditor(target editorTarget, value string) tea.Cmd {
	m.back = m.screen
	m.screen = screenEditor
	m.editorFor = target
	m.editor.SetValue(value)
	return m.editor.Focus()
}

func (m *Model) blurAll() {
	for _, f := range draft.Fields {
		m.machine.Blur(f)
	}
}

func (m *Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.input.Blur()
		m.blurAll()
		m.screen = m.back
		return m, nil
	case "enter":
		value := strings.TrimSpace(m.input.Value())
		m.input.Blur()
		m.screen = m.back
		cmd := m.submitInput(value)
		m.blurAll()
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submitInput(value string) tea.Cmd {
	edit := func(apply func() error, notice string) tea.Cmd {
		if err := apply(); err != nil {
			m.err = err
			return nil
		}
		return m.run(notice, screenDetail, m.machine.SaveMetadata)
	}
	switch m.inputFor {
	case inputNewSession:
		return m.run("created "+value, screenDetail, func(ctx context.Context) error {
			_, err := m.machine.Create(ctx, domain.DraftSessionFields{Kind: domain.KindBlueprint, Title: value})
			return err
		})
	case inputTitle:
		return edit(func() error { return m.machine.SetTitle(value) }, "title saved")
	case inputNamespace:
		return edit(func() error { return m.machine.SetNamespace(value) }, "namespace saved")
	case inputProjectKey:
		return edit(func() error { return m.machine.SetProjectKey(value) }, "project key saved")
	case inputArtifact:
		if value == "" {
			return nil
		}
		return edit(func() error {
			return m.machine.AddSourceArtifact(domain.SourceArtifact{Type: "text", Content: value})
		}, "artifact added")
	case inputInstruction:
		if err := m.machine.SetInstruction(value); err != nil {
			m.err = err
			return nil
		}
		return m.run("revision queued", screenDetail, m.machine.Revise)
	case inputSnapshot:
		return m.run("snapshot recorded", screenDetail, func(ctx context.Context) error {
			return m.machine.Snapshot(ctx, value)
		})
	case inputSearch:
		return m.run("", screenRevisions, func(ctx context.Context) error {
			_, err := m.machine.SearchRevisions(ctx, value)
			return err
		})
	case inputSubmit:
		namespace, name, _ := strings.Cut(value, "/")
		target := submit.Target{Namespace: namespace, Name: name, GenerateCode: m.view.GenerateCode}
		return m.run("", screenDetail, func(ctx context.Context) error {
			_, err := m.machine.Submit(ctx, target)
			return err
		})
	}
	return nil
}

func (m *Model) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.editor.Blur()
		m.blurAll()
		m.screen = m.back
		return m, nil
	case "ctrl+s":
		value := m.editor.Value()
		m.editor.Blur()
		m.screen = m.back
		var cmd tea.Cmd
		switch m.editorFor {
		case editPrompt:
			if err := m.machine.SetPrompt(value); err != nil {
				m.err = err
			} else {
				cmd = m.run("prompt saved", screenDetail, m.machine.SaveMetadata)
			}
		case editDraft:
			cmd = m.run("draft saved", screenDetail, func(ctx context.Context) error {
				return m.machine.Save(ctx, value)
			})
		}
		m.blurAll()
		return m, cmd
	}
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	return m, cmd
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
