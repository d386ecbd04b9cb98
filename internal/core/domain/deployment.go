package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UnknownCommit is the sentinel commit hash used before clone-time
// resolution for manually-triggered deployments (§3).
const UnknownCommit = "unknown"

// DeploymentStatus is the deployment lifecycle state (§3).
type DeploymentStatus string

const (
	StatusQueued     DeploymentStatus = "queued"
	StatusInProgress DeploymentStatus = "in_progress"
	StatusSuccess    DeploymentStatus = "success"
	StatusFailed     DeploymentStatus = "failed"
	StatusCancelled  DeploymentStatus = "cancelled"
)

// Terminal reports whether the status has no further legal transition.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// TriggerType identifies what caused a deployment to be created.
type TriggerType string

const (
	TriggerWebhook TriggerType = "webhook"
	TriggerManual  TriggerType = "manual"
	TriggerRetry   TriggerType = "retry"
)

// Priority convention (§4.1): manual triggers preempt queued webhook work.
const (
	PriorityWebhook = 0
	PriorityManual  = 10
)

func (t TriggerType) Priority() int {
	if t == TriggerManual || t == TriggerRetry {
		return PriorityManual
	}
	return PriorityWebhook
}

// Deployment is one attempt to build and publish a project at a commit (§3).
type Deployment struct {
	ID        uuid.UUID        `json:"id"`
	ProjectID uuid.UUID        `json:"projectId"`
	Status    DeploymentStatus `json:"status"`
	Trigger   TriggerType      `json:"trigger"`

	Branch        string `json:"branch"`
	CommitHash    string `json:"commitHash"`
	CommitMessage string `json:"commitMessage"`
	Author        string `json:"author"`
	TriggeredBy   string `json:"triggeredBy"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationSec float64    `json:"durationSeconds,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`
	LogFilePath  string `json:"logFilePath,omitempty"`
}

// CanCancel reports whether Cancel(id) is legal (§4.2): only Queued → Cancelled.
func (d *Deployment) CanCancel() bool { return d.Status == StatusQueued }

// CanRetry reports whether Retry(id) is legal (§4.2): only from Failed.
func (d *Deployment) CanRetry() bool { return d.Status == StatusFailed }

// StepStatus is the deployment-step lifecycle state (§3).
type StepStatus string

const (
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// CloneStepNumber is the reserved step number for the implicit clone (§3).
const CloneStepNumber = 0

// DeploymentStep is a durable record of one attempted pipeline step,
// including the implicit Clone step at index 0.
type DeploymentStep struct {
	ID           uuid.UUID  `json:"id"`
	DeploymentID uuid.UUID  `json:"deploymentId"`
	StepNumber   int        `json:"stepNumber"`
	Name         string     `json:"name"`
	Status       StepStatus `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	DurationSec  float64    `json:"durationSeconds"`
	Output       string     `json:"output,omitempty"`
	ErrorOutput  string     `json:"errorOutput,omitempty"`
}

// DeploymentRepository is the persistence contract for deployment records.
type DeploymentRepository interface {
	Create(ctx context.Context, d *Deployment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Deployment, error)
	Update(ctx context.Context, d *Deployment) error
}

// DeploymentStepRepository is the persistence contract for step records.
type DeploymentStepRepository interface {
	Create(ctx context.Context, s *DeploymentStep) error
	Update(ctx context.Context, s *DeploymentStep) error
}

// AuditAction enumerates the action kinds the core appends to the
// append-only audit log (§6).
type AuditAction string

const (
	AuditDeploymentCreated   AuditAction = "DeploymentCreated"
	AuditDeploymentCancelled AuditAction = "DeploymentCancelled"
	AuditSSHKeyUsed          AuditAction = "SSH_KEY_USED"
)

// AuditEntry is one append-only audit log record.
type AuditEntry struct {
	ID           uuid.UUID         `json:"id"`
	ProjectID    uuid.UUID         `json:"projectId"`
	DeploymentID uuid.UUID         `json:"deploymentId,omitempty"`
	Action       AuditAction       `json:"action"`
	Success      bool              `json:"success"`
	Detail       map[string]string `json:"detail,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// AuditRepository is the persistence contract for the audit trail.
type AuditRepository interface {
	Append(ctx context.Context, e *AuditEntry) error
}

// NotificationPayload is what SendDeploymentNotification hands to the
// external notification sink (§6).
type NotificationPayload struct {
	ProjectName   string
	DeploymentID  uuid.UUID
	Status        DeploymentStatus
	Branch        string
	CommitHash    string
	CommitMessage string
	Author        string
	DurationSec   *float64
	Error         string
	URL           string
}

// NotificationSink delivers human-facing deployment progress notifications.
// Failures are logged by the caller and never affect deployment state (§7).
type NotificationSink interface {
	SendDeploymentNotification(ctx context.Context, project *Project, deployment *Deployment, payload NotificationPayload) error
}

// EventKind enumerates the real-time events the core broadcasts (§4.6).
type EventKind string

const (
	EventDeploymentUpdated   EventKind = "deployment:updated"
	EventDeploymentLog       EventKind = "deployment:log"
	EventDeploymentCompleted EventKind = "deployment:completed"
)

// EventBroadcaster is the process-wide real-time channel contract.
type EventBroadcaster interface {
	EmitUpdated(deploymentID uuid.UUID, d *Deployment)
	EmitLog(deploymentID uuid.UUID, line string)
	EmitCompleted(deploymentID uuid.UUID, d *Deployment)
}
