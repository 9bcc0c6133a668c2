package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"xynconsole/internal/domain"
	"xynconsole/internal/draft"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(16)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379"))
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func (m *Model) View() string {
	var body, help string
	switch m.screen {
	case screenList:
		body = m.sessions.View()
		help = "enter open · n new · d delete · r refresh · / filter · q quit"
	case screenDetail:
		body = m.renderSession()
		help = "g generate · v revise · t/N/P title/ns/project · p prompt · A artifact · e edit draft · k kind · x code · c resolve · D defaults · a apply · w save · s snapshot · h history · u submit · esc back"
	case screenRevisions:
		body = m.renderRevisions()
		help = "n next · p prev · / search · esc back"
	case screenInput:
		body = m.input.View()
		help = "enter confirm · esc cancel"
	case screenEditor:
		body = m.editor.View()
		help = "ctrl+s save · esc cancel"
	}
	width := max(40, m.width-2)
	parts := []string{boxStyle.Width(width - 2).Render(body), m.renderStatus(), mutedStyle.Width(width).Render(help)}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *Model) renderStatus() string {
	var parts []string
	if m.busy {
		parts = append(parts, m.spinner.View()+" working")
	}
	if m.view.Polling {
		parts = append(parts, accentStyle.Render("polling"))
	}
	if m.notice != "" {
		parts = append(parts, okStyle.Render(m.notice))
	}
	if m.view.Notice != "" && m.view.Notice != m.notice {
		parts = append(parts, okStyle.Render(m.view.Notice))
	}
	if err := m.err; err != nil {
		parts = append(parts, errorStyle.Render("error: "+err.Error()))
	} else if err := m.view.Err; err != nil {
		parts = append(parts, errorStyle.Render("error: "+err.Error()+" (! to dismiss)"))
	}
	return strings.Join(parts, "  ")
}

func field(label, value string) string {
	if value == "" {
		value = mutedStyle.Render("-")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case domain.StatusReady, domain.StatusPublished:
		return okStyle
	case domain.StatusReadyWithErrors, domain.StatusQueued, domain.StatusDrafting:
		return warnStyle
	case domain.StatusFailed:
		return errorStyle
	default:
		return mutedStyle
	}
}

func (m *Model) dirtyMark(f draft.Field) string {
	for _, d := range m.view.Dirty {
		if d == f {
			return " *"
		}
	}
	return ""
}

func (m *Model) renderSession() string {
	v := m.view
	if !v.HasSession {
		return mutedStyle.Render("no session selected")
	}
	s := v.Session
	prompt := s.InitialPrompt
	if s.InitialPromptLocked {
		prompt += mutedStyle.Render(" (locked)")
	}
	context := "unresolved"
	if s.EffectiveContextHash != "" {
		context = s.EffectiveContextHash[:min(12, len(s.EffectiveContextHash))]
		if s.ContextStale {
			context += warnStyle.Render(" stale")
		}
	}
	code := "no"
	if v.GenerateCode {
		code = "yes"
	}
	lines := []string{
		titleStyle.Render(s.Title + m.dirtyMark(draft.FieldTitle)),
		field("status", statusStyle(s.Status).Render(s.Status)),
		field("kind", s.Kind+m.dirtyMark(draft.FieldKind)),
		field("namespace", s.Namespace+m.dirtyMark(draft.FieldNamespace)),
		field("project", s.ProjectKey+m.dirtyMark(draft.FieldProjectKey)),
		field("prompt", prompt+m.dirtyMark(draft.FieldPrompt)),
		field("artifacts", fmt.Sprintf("%d%s", len(s.SourceArtifacts), m.dirtyMark(draft.FieldSourceArtifacts))),
		field("packs", strings.Join(s.SelectedContextPackIDs, ", ")+m.dirtyMark(draft.FieldContextPacks)),
		field("recommended", strings.Join(v.Defaults.RecommendedContextPackIDs, ", ")),
		field("required", strings.Join(v.Defaults.RequiredPackNames, ", ")),
		field("context", context),
		field("generate code", code),
	}
	if s.RequirementsSummary != "" {
		lines = append(lines, field("requirements", s.RequirementsSummary))
	}
	if s.DiffSummary != "" {
		lines = append(lines, field("last change", s.DiffSummary))
	}
	if s.LastError != "" {
		lines = append(lines, field("last error", errorStyle.Render(s.LastError)))
	}
	for _, ve := range s.ValidationErrors {
		lines = append(lines, warnStyle.Render("! "+ve))
	}
	if s.SubmittedEntityID != "" {
		lines = append(lines, field("submitted", s.SubmittedEntityType+" "+s.SubmittedEntityID))
	}
	if v.CanSubmit {
		lines = append(lines, okStyle.Render("ready to submit"))
	}
	if s.HasDraft() {
		lines = append(lines, "", mutedStyle.Render(truncateLines(prettyJSON(s.Draft), max(5, m.height-24))))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderRevisions() string {
	p := m.view.Revisions
	header := titleStyle.Render(fmt.Sprintf("Revisions · page %d/%d · %d total", max(1, p.Page), p.PageCount(), p.Total))
	if p.Q != "" {
		header += mutedStyle.Render("  search: " + p.Q)
	}
	if len(p.Revisions) == 0 {
		return header + "\n" + mutedStyle.Render("no revisions")
	}
	lines := []string{header}
	for _, r := range p.Revisions {
		detail := r.DiffSummary
		if r.Instruction != "" {
			detail = r.Instruction
		}
		line := fmt.Sprintf("#%-3d %-9s %s", r.RevisionNumber, r.Action, detail)
		if r.ValidationErrorsCount > 0 {
			line += warnStyle.Render(fmt.Sprintf(" (%d errors)", r.ValidationErrorsCount))
		}
		lines = append(lines, line+mutedStyle.Render("  "+r.CreatedAt))
	}
	return strings.Join(lines, "\n")
}

func truncateLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "\n…"
}
