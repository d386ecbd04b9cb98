package services_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploycenter/deploy-center/internal/core/services"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell session tests target the POSIX /bin/sh path")
	}
}

func TestShellSession_RunsSequentialCommands(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	session, err := services.NewShellSession(dir, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	res, err := session.Run(context.Background(), "echo hello", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "hello")
}

func TestShellSession_CapturesNonZeroExit(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	session, err := services.NewShellSession(dir, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	res, err := session.Run(context.Background(), "exit 7", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
}

func TestShellSession_PreservesWorkingDirectoryAcrossCommands(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	session, err := services.NewShellSession(dir, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	_, err = session.Run(context.Background(), "mkdir sub && cd sub", 5*time.Second)
	require.NoError(t, err)

	res, err := session.Run(context.Background(), "pwd", 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "sub")
}

func TestShellSession_StderrIsClassified(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	session, err := services.NewShellSession(dir, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	res, err := session.Run(context.Background(), "echo npm warn deprecated-thing 1>&2; echo boom 1>&2", 5*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)
	assert.NotEmpty(t, res.Errors)
}

func TestShellSession_CommandTimeoutKillsSession(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	session, err := services.NewShellSession(dir, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	_, err = session.Run(context.Background(), "sleep 10", 200*time.Millisecond)
	assert.Error(t, err)

	_, err = session.Run(context.Background(), "echo again", time.Second)
	assert.ErrorIs(t, err, services.ErrSessionClosed)
}
