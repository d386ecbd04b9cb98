package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PipelineStep is a single named unit of the user-supplied build pipeline.
// Validation rules (§4.3.3): Name must be non-empty, Run must contain at
// least one non-empty command string.
type PipelineStep struct {
	Name  string   `json:"name" validate:"required"`
	Run   []string `json:"run" validate:"required,min=1,dive,required"`
	RunIf string   `json:"runIf,omitempty"`
}

// Pipeline is the ordered, possibly-empty, user-supplied step list.
type Pipeline []PipelineStep

// Valid reports whether the pipeline satisfies §4.3.3. An empty pipeline is
// valid (legacy sync-only mode).
func (p Pipeline) Valid() error {
	for i, step := range p {
		if step.Name == "" {
			return NewError(FailureValidation, fmt.Errorf("step %d: name must not be empty", i))
		}
		if len(step.Run) == 0 {
			return NewError(FailureValidation, fmt.Errorf("step %q: must have at least one command", step.Name))
		}
		for j, cmd := range step.Run {
			if cmd == "" {
				return NewError(FailureValidation, fmt.Errorf("step %q: command %d is empty", step.Name, j))
			}
		}
	}
	return nil
}

// EncryptedBlob is the (ciphertext, IV, auth tag) triple produced by
// AES-256-GCM over a stored SSH private key (§3).
type EncryptedBlob struct {
	Ciphertext []byte `json:"ciphertext,omitempty"`
	IV         []byte `json:"iv,omitempty"`
	AuthTag    []byte `json:"authTag,omitempty"`
}

// Empty reports whether no encrypted key material is present at all.
func (b EncryptedBlob) Empty() bool {
	return len(b.Ciphertext) == 0 && len(b.IV) == 0 && len(b.AuthTag) == 0
}

// Project is the unit of configuration the core reads from external storage.
type Project struct {
	ID          uuid.UUID `json:"id" validate:"required"`
	Name        string    `json:"name" validate:"required"`
	RepoURL     string    `json:"repoUrl" validate:"required"`
	Branch      string    `json:"branch" validate:"required"`
	Active      bool      `json:"active"`
	TargetPaths []string  `json:"targetPaths" validate:"required,min=1,dive,required"`
	Pipeline    Pipeline  `json:"pipeline"`

	UseSSHKey      bool          `json:"useSshKey"`
	EncryptedKey   EncryptedBlob `json:"encryptedKey,omitempty"`
	PublicKeyFP    string        `json:"publicKeyFingerprint,omitempty"`
	WebhookSecret  string        `json:"webhookSecret,omitempty"`
	AutoDeploy     bool          `json:"autoDeploy"`
	DeployOnPaths  []string      `json:"deployOnPaths,omitempty"`
	BuildOutput    string        `json:"buildOutput,omitempty"`
	SyncIgnore     []string      `json:"syncIgnorePatterns,omitempty"`
	RsyncOptions   string        `json:"rsyncOptions,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate enforces the invariants of §3: if UseSSHKey, encrypted key + IV +
// tag must all be present; at least one target path; pipeline may be empty.
func (p *Project) Validate() error {
	if err := ValidateStruct(p); err != nil {
		return err
	}
	if p.UseSSHKey && p.EncryptedKey.Empty() {
		return NewError(FailureValidation, ErrMissingSSHMaterial)
	}
	if len(p.TargetPaths) == 0 {
		return NewError(FailureValidation, ErrNoTargetPath)
	}
	if err := p.Pipeline.Valid(); err != nil {
		return err
	}
	return nil
}

// ProjectRepository is the persistence contract the core reads against. The
// concrete implementation (Postgres, in-memory, ...) is an external
// collaborator — the core never embeds storage logic.
type ProjectRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Project, error)
	UpdateCommit(ctx context.Context, id uuid.UUID, commitHash string) error
}
