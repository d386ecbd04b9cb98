// Package webhook verifies and normalises inbound push webhooks, and
// decides whether a project should deploy as a result (§4.7). Adapted from
// the teacher's VerifyGitHubSignature helper, generalised from a single
// GitHub-shaped payload to the normalised shape the orchestrator consumes.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/deploycenter/deploy-center/internal/core/domain"
)

// ErrInvalidSignature is returned by VerifySignature on any mismatch or
// malformed header.
var ErrInvalidSignature = errors.New("webhook: signature verification failed")

// VerifySignature checks the HMAC-SHA-256 of rawBody against a
// "sha256=<hex>" header value using secret, in constant time (§4.7).
func VerifySignature(rawBody []byte, signatureHeader, secret string) error {
	if signatureHeader == "" {
		return fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || parts[0] != "sha256" {
		return fmt.Errorf("%w: unexpected signature format", ErrInvalidSignature)
	}

	provided, err := hex.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("%w: invalid hex encoding", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expected, provided) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Payload is the normalised shape of an inbound push event (§4.7).
type Payload struct {
	Branch         string
	CommitHash     string
	CommitMessage  string
	AuthorName     string
	AuthorEmail    string
	RepoName       string
	RepoURL        string
	PreviousCommit string
	// ChangedPaths is the full added+modified+removed union, for audit/log
	// display.
	ChangedPaths []string
	// AddedOrModifiedPaths excludes removals; this is the set ShouldTrigger
	// matches DeployOnPaths against (§4.7 "at least one added-or-modified
	// file").
	AddedOrModifiedPaths []string
}

// CommitInput is one commit entry in a raw webhook body, used to build the
// de-duplicated ChangedPaths union.
type CommitInput struct {
	Added    []string
	Modified []string
	Removed  []string
}

// Normalise builds a Payload from the ref, head commit fields, and every
// commit's changed-file lists (§4.7).
func Normalise(ref, repoName, repoURL, commitHash, commitMessage, authorName, authorEmail, previousCommit string, commits []CommitInput) Payload {
	seen := map[string]bool{}
	seenAddedOrModified := map[string]bool{}
	var changed, addedOrModified []string
	for _, c := range commits {
		for _, group := range [][]string{c.Added, c.Modified, c.Removed} {
			for _, p := range group {
				if !seen[p] {
					seen[p] = true
					changed = append(changed, p)
				}
			}
		}
		for _, group := range [][]string{c.Added, c.Modified} {
			for _, p := range group {
				if !seenAddedOrModified[p] {
					seenAddedOrModified[p] = true
					addedOrModified = append(addedOrModified, p)
				}
			}
		}
	}

	return Payload{
		Branch:               branchFromRef(ref),
		CommitHash:           commitHash,
		CommitMessage:        commitMessage,
		AuthorName:           authorName,
		AuthorEmail:          authorEmail,
		RepoName:             repoName,
		RepoURL:              repoURL,
		PreviousCommit:       previousCommit,
		ChangedPaths:         changed,
		AddedOrModifiedPaths: addedOrModified,
	}
}

func branchFromRef(ref string) string {
	const prefix = "refs/heads/"
	if strings.HasPrefix(ref, prefix) {
		return strings.TrimPrefix(ref, prefix)
	}
	return ref
}

// TriggerDecision is ShouldTrigger's verdict, with a structured reason when
// the answer is no (§4.7).
type TriggerDecision struct {
	ShouldTrigger bool
	Reason        string
}

// ShouldTrigger computes §4.7's "should-trigger" predicate: AutoDeploy AND
// branch match AND repo URL match AND (no DeployOnPaths or a glob match).
func ShouldTrigger(project *domain.Project, payload Payload) TriggerDecision {
	if !project.AutoDeploy {
		return TriggerDecision{false, "project has AutoDeploy disabled"}
	}
	if payload.Branch != project.Branch {
		return TriggerDecision{false, fmt.Sprintf("branch %q does not match configured branch %q", payload.Branch, project.Branch)}
	}
	if !sameRepo(payload.RepoURL, project.RepoURL) {
		return TriggerDecision{false, "repository URL does not match project configuration"}
	}
	if len(project.DeployOnPaths) > 0 && !anyPathMatches(project.DeployOnPaths, payload.AddedOrModifiedPaths) {
		return TriggerDecision{false, "no changed file matches DeployOnPaths"}
	}
	return TriggerDecision{true, ""}
}

// sameRepo normalises both URLs (lower-case, strip ".git", rewrite SSH
// syntax to host/path, strip protocol, strip trailing slash) and compares.
func sameRepo(a, b string) bool {
	return normaliseRepoURL(a) == normaliseRepoURL(b)
}

func normaliseRepoURL(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimSuffix(u, ".git")
	u = strings.TrimSuffix(u, "/")

	// git@host:path -> host/path
	if idx := strings.Index(u, "@"); idx != -1 && strings.Contains(u, ":") && !strings.Contains(u, "://") {
		rest := u[idx+1:]
		rest = strings.Replace(rest, ":", "/", 1)
		u = rest
	}

	for _, scheme := range []string{"https://", "http://", "ssh://", "git://"} {
		u = strings.TrimPrefix(u, scheme)
	}
	return strings.TrimSuffix(u, "/")
}

// anyPathMatches reports whether at least one changed path matches one of
// the DeployOnPaths globs (`*`=one segment, `**`=any depth, §4.7).
func anyPathMatches(patterns, paths []string) bool {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		compiled = append(compiled, g)
	}
	for _, path := range paths {
		for _, g := range compiled {
			if g.Match(path) {
				return true
			}
		}
	}
	return false
}
