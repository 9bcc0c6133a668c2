package draft

import (
	"errors"
	"fmt"
)

var (
	ErrNoSelection       = errors.New("no draft session selected")
	ErrNothingToGenerate = errors.New("an initial prompt or a source artifact is required to generate")
	ErrNoGeneratedOutput = errors.New("session has no generated output yet")
	ErrEmptyInstruction  = errors.New("revision instruction is empty")
	ErrNothingToSnapshot = errors.New("session has no draft to snapshot")
	ErrInvalidDraftJSON  = errors.New("draft is not valid JSON")
	ErrPromptLocked      = errors.New("initial prompt is locked after generation")
	ErrInvalidKind       = errors.New("kind must be blueprint or solution")
	ErrNoTranscript      = errors.New("voice note has no transcript yet")
	ErrDefaultsStale     = errors.New("context pack recommendations are out of date for the current kind, namespace and project key")
	// ErrSessionGone is returned by actions whose session was deleted
	// elsewhere. The machine has already reset its selection and re-listed.
	ErrSessionGone = errors.New("draft session no longer exists")
)

// DiscardHashError asks for confirmation before a resolved context hash is replaced.
type DiscardHashError struct {
	Hash string
}

func (e *DiscardHashError) Error() string {
	return fmt.Sprintf("re-resolving context discards effective context hash %s; confirm to continue", e.Hash)
}

// UnresolvablePackError rejects a pack that is unknown or scoped to another
// namespace or project.
type UnresolvablePackError struct {
	ID         string
	Namespace  string
	ProjectKey string
}

func (e *UnresolvablePackError) Error() string {
	return fmt.Sprintf("context pack %s does not resolve for namespace %q project %q", e.ID, e.Namespace, e.ProjectKey)
}
