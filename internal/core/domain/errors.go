package domain

import "errors"

// Sentinel errors surfaced across the core. Collaborators and the
// orchestrator branch on these with errors.Is rather than string matching.
var (
	ErrNotFound          = errors.New("domain: not found")
	ErrProjectInactive   = errors.New("domain: project is not active")
	ErrInvalidState      = errors.New("domain: invalid state transition")
	ErrInvalidPipeline   = errors.New("domain: invalid pipeline")
	ErrMissingSSHMaterial = errors.New("domain: use_ssh_key set but key/iv/tag missing")
	ErrNoTargetPath      = errors.New("domain: project has no target paths")
)

// FailureKind tags an execution failure per §7 of the specification so the
// orchestrator can branch on classification instead of parsing error text.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureValidation
	FailureTransient
	FailureCapacity
	FailureStep
	FailurePublish
	FailureCleanup
	FailureNotification
	FailureSSHKey
)

func (k FailureKind) String() string {
	switch k {
	case FailureValidation:
		return "validation"
	case FailureTransient:
		return "transient"
	case FailureCapacity:
		return "capacity"
	case FailureStep:
		return "step"
	case FailurePublish:
		return "publish"
	case FailureCleanup:
		return "cleanup"
	case FailureNotification:
		return "notification"
	case FailureSSHKey:
		return "ssh_key"
	default:
		return "none"
	}
}

// Error wraps an underlying error with a FailureKind so callers can decide
// whether to retry, escalate, or silently log.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind FailureKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
