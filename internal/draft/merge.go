package draft

import (
	"slices"

	"xynconsole/internal/domain"
)

// Field names a user-editable session field.
type Field string

const (
	FieldTitle           Field = "title"
	FieldKind            Field = "kind"
	FieldNamespace       Field = "namespace"
	FieldProjectKey      Field = "project_key"
	FieldPrompt          Field = "initial_prompt"
	FieldSourceArtifacts Field = "source_artifacts"
	FieldContextPacks    Field = "selected_context_pack_ids"
)

// Fields lists every editable field in display order.
var Fields = []Field{
	FieldTitle, FieldKind, FieldNamespace, FieldProjectKey,
	FieldPrompt, FieldSourceArtifacts, FieldContextPacks,
}

// Merge reconciles a fetched session into the local working copy. Server
// values win except for fields keep reports true. A local prompt lock is
// never released by a fetched value.
func Merge(local, fetched domain.DraftSession, keep func(Field) bool) domain.DraftSession {
	out := fetched.Clone()
	if keep == nil {
		keep = func(Field) bool { return false }
	}
	if keep(FieldTitle) {
		out.Title = local.Title
	}
	if keep(FieldKind) {
		out.Kind = local.Kind
	}
	if keep(FieldNamespace) {
		out.Namespace = local.Namespace
	}
	if keep(FieldProjectKey) {
		out.ProjectKey = local.ProjectKey
	}
	if keep(FieldPrompt) {
		out.InitialPrompt = local.InitialPrompt
	}
	if keep(FieldSourceArtifacts) {
		out.SourceArtifacts = append([]domain.SourceArtifact(nil), local.SourceArtifacts...)
	}
	if keep(FieldContextPacks) {
		out.SelectedContextPackIDs = append([]string(nil), local.SelectedContextPackIDs...)
	}
	out.InitialPromptLocked = local.InitialPromptLocked || fetched.InitialPromptLocked
	return out
}

// fieldEqual reports whether f holds the same value in a and b.
func fieldEqual(f Field, a, b domain.DraftSession) bool {
	switch f {
	case FieldTitle:
		return a.Title == b.Title
	case FieldKind:
		return a.Kind == b.Kind
	case FieldNamespace:
		return a.Namespace == b.Namespace
	case FieldProjectKey:
		return a.ProjectKey == b.ProjectKey
	case FieldPrompt:
		return a.InitialPrompt == b.InitialPrompt
	case FieldSourceArtifacts:
		return slices.Equal(a.SourceArtifacts, b.SourceArtifacts)
	case FieldContextPacks:
		return slices.Equal(a.SelectedContextPackIDs, b.SelectedContextPackIDs)
	}
	return false
}

// metadataUpdate builds the full metadata payload for s. The prompt is left
// out once locked.
func metadataUpdate(s domain.DraftSession) domain.DraftSessionUpdate {
	title := s.Title
	kind := s.Kind
	namespace := s.Namespace
	projectKey := s.ProjectKey
	artifacts := append([]domain.SourceArtifact{}, s.SourceArtifacts...)
	packs := append([]string{}, s.SelectedContextPackIDs...)
	u := domain.DraftSessionUpdate{
		Title:                  &title,
		Kind:                   &kind,
		Namespace:              &namespace,
		ProjectKey:             &projectKey,
		SourceArtifacts:        &artifacts,
		SelectedContextPackIDs: &packs,
	}
	if !s.InitialPromptLocked {
		prompt := s.InitialPrompt
		u.InitialPrompt = &prompt
	}
	return u
}
