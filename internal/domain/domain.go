package domain

import (
	"encoding/json"
	"errors"
)

// ErrNotFound is returned (or matched via errors.Is) when a draft session,
// revision, voice note or context pack does not exist.
var ErrNotFound = errors.New("not found")

const (
	KindBlueprint = "blueprint"
	KindSolution  = "solution"
)

const (
	StatusDrafting        = "drafting"
	StatusQueued          = "queued"
	StatusReady           = "ready"
	StatusReadyWithErrors = "ready_with_errors"
	StatusPublished       = "published"
	StatusArchived        = "archived"
	StatusFailed          = "failed"
)

const (
	ActionGenerate = "generate"
	ActionRevise   = "revise"
	ActionSave     = "save"
	ActionSnapshot = "snapshot"
)

const (
	ScopeGlobal    = "global"
	ScopeNamespace = "namespace"
	ScopeProject   = "project"
)

const (
	VoiceUploaded     = "uploaded"
	VoiceQueued       = "queued"
	VoiceTranscribing = "transcribing"
	VoiceTranscribed  = "transcribed"
	VoiceFailed       = "failed"
)

// ArtifactAudioTranscript tags a source artifact produced from a voice note.
const ArtifactAudioTranscript = "audio_transcript"

// IsInFlight reports whether a background job is presumed outstanding for status.
// Every status outside this set is settled.
func IsInFlight(status string) bool {
	return status == StatusDrafting || status == StatusQueued
}

// ValidKind reports whether kind is a known draft kind.
func ValidKind(kind string) bool {
	return kind == KindBlueprint || kind == KindSolution
}

type SourceArtifact struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// DraftSession is the mutable unit of work. List endpoints leave Draft empty.
type DraftSession struct {
	ID                     string           `json:"id"`
	Kind                   string           `json:"kind" enum:"blueprint,solution"`
	Namespace              string           `json:"namespace,omitempty"`
	ProjectKey             string           `json:"project_key,omitempty"`
	Title                  string           `json:"title"`
	InitialPrompt          string           `json:"initial_prompt"`
	SourceArtifacts        []SourceArtifact `json:"source_artifacts"`
	Draft                  json.RawMessage  `json:"draft,omitempty"`
	Status                 string           `json:"status"`
	InitialPromptLocked    bool             `json:"initial_prompt_locked"`
	HasGeneratedOutput     bool             `json:"has_generated_output"`
	ValidationErrors       []string         `json:"validation_errors"`
	RequirementsSummary    string           `json:"requirements_summary,omitempty"`
	DiffSummary            string           `json:"diff_summary,omitempty"`
	SelectedContextPackIDs []string         `json:"selected_context_pack_ids"`
	EffectiveContextHash   string           `json:"effective_context_hash,omitempty"`
	ContextResolvedAt      *string          `json:"context_resolved_at,omitempty" format:"date-time"`
	ContextStale           bool             `json:"context_stale"`
	JobID                  string           `json:"job_id,omitempty"`
	LastError              string           `json:"last_error,omitempty"`
	SubmittedEntityType    string           `json:"submitted_entity_type,omitempty"`
	SubmittedEntityID      string           `json:"submitted_entity_id,omitempty"`
	CreatedAt              string           `json:"created_at" format:"date-time"`
	UpdatedAt              string           `json:"updated_at" format:"date-time"`
}

// HasDraft reports whether a non-empty draft document is present.
func (s DraftSession) HasDraft() bool {
	trimmed := string(s.Draft)
	return trimmed != "" && trimmed != "null"
}

// Clone returns a deep copy so callers can hand out views without sharing slices.
func (s DraftSession) Clone() DraftSession {
	out := s
	out.SourceArtifacts = append([]SourceArtifact(nil), s.SourceArtifacts...)
	out.ValidationErrors = append([]string(nil), s.ValidationErrors...)
	out.SelectedContextPackIDs = append([]string(nil), s.SelectedContextPackIDs...)
	if s.Draft != nil {
		out.Draft = append(json.RawMessage(nil), s.Draft...)
	}
	if s.ContextResolvedAt != nil {
		v := *s.ContextResolvedAt
		out.ContextResolvedAt = &v
	}
	return out
}

type DraftSessionFilter struct {
	Status     string
	Kind       string
	Namespace  string
	ProjectKey string
	Q          string
}

// DraftSessionFields are the creatable fields of a session.
type DraftSessionFields struct {
	Kind                   string           `json:"kind"`
	Title                  string           `json:"title"`
	Namespace              string           `json:"namespace,omitempty"`
	ProjectKey             string           `json:"project_key,omitempty"`
	InitialPrompt          string           `json:"initial_prompt,omitempty"`
	SourceArtifacts        []SourceArtifact `json:"source_artifacts,omitempty"`
	SelectedContextPackIDs []string         `json:"selected_context_pack_ids,omitempty"`
}

// DraftSessionUpdate is a partial metadata update; nil fields are left untouched.
type DraftSessionUpdate struct {
	Title                  *string           `json:"title,omitempty"`
	Kind                   *string           `json:"kind,omitempty"`
	Namespace              *string           `json:"namespace,omitempty"`
	ProjectKey             *string           `json:"project_key,omitempty"`
	InitialPrompt          *string           `json:"initial_prompt,omitempty"`
	SourceArtifacts        *[]SourceArtifact `json:"source_artifacts,omitempty"`
	SelectedContextPackIDs *[]string         `json:"selected_context_pack_ids,omitempty"`
	Status                 *string           `json:"status,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u DraftSessionUpdate) Empty() bool {
	return u.Title == nil && u.Kind == nil && u.Namespace == nil && u.ProjectKey == nil &&
		u.InitialPrompt == nil && u.SourceArtifacts == nil && u.SelectedContextPackIDs == nil && u.Status == nil
}

type SubmitRequest struct {
	InitialPrompt          string           `json:"initial_prompt"`
	SelectedContextPackIDs []string         `json:"selected_context_pack_ids"`
	SourceArtifacts        []SourceArtifact `json:"source_artifacts"`
	GenerateCode           bool             `json:"generate_code"`
}

type SubmitResult struct {
	Status     string `json:"status"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// ContextPackSummary describes a named, versioned bundle of reference material.
type ContextPackSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Purpose    string `json:"purpose" enum:"planner,coder,deployer,operator,any"`
	Scope      string `json:"scope" enum:"global,namespace,project"`
	Namespace  string `json:"namespace,omitempty"`
	ProjectKey string `json:"project_key,omitempty"`
	Version    string `json:"version"`
}

type ContextPackFilter struct {
	Scope      string
	Namespace  string
	ProjectKey string
	Purpose    string
}

// ContextPackQuery is the tuple recommendations are derived from.
type ContextPackQuery struct {
	DraftKind    string `json:"draft_kind"`
	Namespace    string `json:"namespace,omitempty"`
	ProjectKey   string `json:"project_key,omitempty"`
	GenerateCode bool   `json:"generate_code"`
}

type ContextPackDefaults struct {
	RecommendedContextPackIDs []string `json:"recommended_context_pack_ids"`
	RequiredPackNames         []string `json:"required_pack_names"`
}

// DraftRevision is an immutable, append-only record.
type DraftRevision struct {
	ID                    string `json:"id"`
	SessionID             string `json:"session_id"`
	RevisionNumber        int    `json:"revision_number"`
	Action                string `json:"action" enum:"generate,revise,save,snapshot"`
	Instruction           string `json:"instruction,omitempty"`
	DiffSummary           string `json:"diff_summary,omitempty"`
	ValidationErrorsCount int    `json:"validation_errors_count"`
	CreatedAt             string `json:"created_at" format:"date-time"`
}

type RevisionQuery struct {
	Q        string
	Page     int
	PageSize int
}

type RevisionPage struct {
	Revisions []DraftRevision `json:"revisions"`
	Total     int             `json:"total"`
}

type VoiceNote struct {
	ID             string  `json:"id"`
	SessionID      string  `json:"session_id"`
	Status         string  `json:"status"`
	LanguageCode   string  `json:"language_code,omitempty"`
	TranscriptText *string `json:"transcript_text,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

// Event is an entry of the session audit log kept by the reference backend.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
