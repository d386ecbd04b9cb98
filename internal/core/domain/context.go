package domain

// DeploymentContext is the read-only, string-keyed variable map substituted
// into pipeline commands during a single deployment (§3). It is built once
// by the orchestrator and never mutated by the pipeline runner.
type DeploymentContext map[string]string

// Well-known context variable names (§3).
const (
	VarProjectName      = "ProjectName"
	VarProjectID        = "ProjectId"
	VarDeploymentID     = "DeploymentId"
	VarRepoName         = "RepoName"
	VarRepoURL          = "RepoUrl"
	VarBranch           = "Branch"
	VarCommit           = "Commit"
	VarCommitHash       = "CommitHash"
	VarCommitMessage    = "CommitMessage"
	VarAuthor           = "Author"
	VarEnvironment      = "Environment"
	VarWorkingDirectory = "WorkingDirectory"
	VarProjectPath      = "ProjectPath"
	VarTargetPath       = "TargetPath"
	VarBuildCommand     = "BuildCommand"
	VarBuildOutput      = "BuildOutput"
)

// HasVar reports whether name is present and non-empty, matching the
// hasVar() predicate available to RunIf expressions (§4.3.1).
func (c DeploymentContext) HasVar(name string) bool {
	v, ok := c[name]
	return ok && v != ""
}

// Get returns the value for name, or ok=false when absent.
func (c DeploymentContext) Get(name string) (string, bool) {
	v, ok := c[name]
	return v, ok
}

// SSHKeyHandle is the in-memory-only handle to a materialised ephemeral SSH
// key (§3). It is never persisted, logged, or exposed through any external
// interface. Destroy is idempotent.
type SSHKeyHandle struct {
	Path    string
	Destroy func()
}
