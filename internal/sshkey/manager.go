// Package sshkey materialises short-lived on-disk SSH private keys for git
// operations and guarantees their destruction (§4.4). Keys are decrypted
// only into a 0600 temp file for the lifetime of one deployment; a failsafe
// timer and a periodic orphan sweep back up the caller's explicit destroy.
package sshkey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/deploycenter/deploy-center/internal/core/domain"
	"github.com/deploycenter/deploy-center/internal/infrastructure/crypto"
	"github.com/deploycenter/deploy-center/internal/process"
)

const (
	// Failsafe is the force-destroy delay independent of the deployment's
	// own cleanup path (§4.2 step 2, §4.4).
	Failsafe = 5 * time.Minute
	// orphanSweepInterval is how often the background sweeper runs (§4.4).
	orphanSweepInterval = 60 * time.Second
	dirMode             = 0o700
	keyMode             = 0o600
)

var recognisedHeaders = []string{"OPENSSH PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY"}

// Manager materialises and destroys ephemeral SSH keys under a single
// controller-owned temp directory.
type Manager struct {
	baseDir string
	crypto  *crypto.Service
	logger  *slog.Logger

	initOnce sync.Once
	stopSwp  chan struct{}
}

// New constructs a Manager rooted at baseDir (e.g.
// "<os-temp>/deploy-center-ssh-runtime", §6).
func New(baseDir string, cryptoSvc *crypto.Service, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{baseDir: baseDir, crypto: cryptoSvc, logger: logger, stopSwp: make(chan struct{})}
}

// Init creates the temp directory with mode 0700 and starts the orphan
// sweeper. Idempotent and safe to call from multiple goroutines.
func (m *Manager) Init() error {
	var initErr error
	m.initOnce.Do(func() {
		if err := os.MkdirAll(m.baseDir, dirMode); err != nil {
			initErr = fmt.Errorf("sshkey: create temp dir: %w", err)
			return
		}
		_ = os.Chmod(m.baseDir, dirMode)
		go m.sweepLoop()
	})
	return initErr
}

// Stop halts the orphan sweeper. Intended for tests and graceful shutdown.
func (m *Manager) Stop() { close(m.stopSwp) }

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(orphanSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSwp:
			return
		case <-ticker.C:
			m.sweepOrphans()
		}
	}
}

// sweepOrphans secure-destroys every file in the temp directory whose mtime
// is older than Failsafe (§4.4).
func (m *Manager) sweepOrphans() {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-Failsafe)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(m.baseDir, e.Name())
			if err := Destroy(path); err != nil {
				m.logger.Warn("sshkey: orphan sweep destroy failed", "path", path, "error", err)
			}
		}
	}
}

// Handle is the materialised key's in-memory-only handle.
type Handle = domain.SSHKeyHandle

// Materialise decrypts blob, writes it to a fresh 0600 file, validates it
// looks like a recognised private key, and schedules a failsafe destroy
// after Failsafe regardless of what the caller does (§4.4).
func (m *Manager) Materialise(blob domain.EncryptedBlob, projectID string) (*Handle, error) {
	if err := m.Init(); err != nil {
		return nil, err
	}

	plaintext, err := m.crypto.Decrypt(blob)
	if err != nil {
		return nil, domain.NewError(domain.FailureSSHKey, fmt.Errorf("sshkey: decrypt: %w", err))
	}

	if !looksLikePrivateKey(plaintext) {
		zero(plaintext)
		return nil, domain.NewError(domain.FailureSSHKey, errors.New("sshkey: decrypted material is not a recognised private key"))
	}

	name, err := randomName(projectID)
	if err != nil {
		zero(plaintext)
		return nil, err
	}
	path := filepath.Join(m.baseDir, name)

	if err := os.WriteFile(path, plaintext, keyMode); err != nil {
		zero(plaintext)
		return nil, domain.NewError(domain.FailureSSHKey, fmt.Errorf("sshkey: write: %w", err))
	}
	zero(plaintext)

	if info, err := os.Stat(path); err == nil {
		if info.Mode().Perm() != keyMode {
			m.logger.Warn("sshkey: file permissions not compliant", "path", path, "mode", info.Mode().Perm())
		}
	}

	var once sync.Once
	destroy := func() {
		once.Do(func() {
			if err := Destroy(path); err != nil {
				m.logger.Warn("sshkey: destroy failed", "path", path, "error", err)
			}
		})
	}

	timer := time.AfterFunc(Failsafe, destroy)
	wrappedDestroy := func() {
		timer.Stop()
		destroy()
	}

	return &Handle{Path: path, Destroy: wrappedDestroy}, nil
}

// Fingerprint computes the SHA256 fingerprint of the private key at path,
// for the audit entry written on successful clone (§4.2 step 7, §8 S6).
func Fingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return "", fmt.Errorf("sshkey: parse for fingerprint: %w", err)
	}
	return ssh.FingerprintSHA256(signer.PublicKey()), nil
}

func looksLikePrivateKey(data []byte) bool {
	s := string(data)
	for _, h := range recognisedHeaders {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

func randomName(projectID string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("sshkey: random suffix: %w", err)
	}
	return fmt.Sprintf("key-p%s-%d-%s", projectID, time.Now().UnixNano(), hex.EncodeToString(buf)), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Destroy overwrites the full byte length of the file at path three times
// (random, then 0x00, then 0xFF) and unlinks it (§4.4 "Secure erase").
// Errors are never fatal to callers but are returned so the caller can log.
func Destroy(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	size := info.Size()
	f, err := os.OpenFile(path, os.O_WRONLY, keyMode)
	if err != nil {
		return err
	}

	passes := []func([]byte) error{
		func(buf []byte) error { _, err := rand.Read(buf); return err },
		func(buf []byte) error { fill(buf, 0x00); return nil },
		func(buf []byte) error { fill(buf, 0xFF); return nil },
	}

	buf := make([]byte, size)
	var passErr error
	for _, pass := range passes {
		if err := pass(buf); err != nil {
			passErr = err
			break
		}
		if _, err := f.WriteAt(buf, 0); err != nil {
			passErr = err
			break
		}
		if err := f.Sync(); err != nil {
			passErr = err
			break
		}
	}
	_ = f.Close()
	if passErr != nil {
		_ = os.Remove(path)
		return fmt.Errorf("sshkey: secure erase: %w", passErr)
	}

	return os.Remove(path)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// GitSSHCommand builds the GIT_SSH_COMMAND value for the given key path
// (§4.2 step 7, §4.4).
func GitSSHCommand(keyPath string) string {
	return fmt.Sprintf(
		"ssh -i %s -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null -o IdentitiesOnly=yes -o BatchMode=yes -o LogLevel=ERROR",
		keyPath,
	)
}

// RunGit runs git with args, with GIT_SSH_COMMAND pointed at keyPath (if
// non-empty), the given working directory, and a hard timeout, killing the
// whole process tree on expiry (§4.4 "Git execution helper").
func RunGit(ctx context.Context, keyPath, dir string, timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if keyPath != "" {
		cmd.Env = append(os.Environ(), "GIT_SSH_COMMAND="+GitSSHCommand(keyPath))
	}

	grp := process.New()
	grp.Setup(cmd)
	cmd.Cancel = func() error { return grp.Kill(cmd) }

	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		_ = grp.Kill(cmd)
		return out, fmt.Errorf("sshkey: git %v timed out after %s", args, timeout)
	}
	return out, err
}
