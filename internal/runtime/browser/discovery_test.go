package browser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), mode))
	return path
}

func noLookPath() (string, bool) { return "", false }

func TestFindExecutablePrefersConfiguredBin(t *testing.T) {
	dir := t.TempDir()
	bin := writeExecutable(t, dir, "chrome", 0o755)
	other := writeExecutable(t, dir, "chromium", 0o755)

	got, err := FindExecutable(bin, []string{other}, noLookPath)
	require.NoError(t, err)
	require.Equal(t, bin, got)
}

func TestFindExecutableRejectsMissingConfiguredBin(t *testing.T) {
	dir := t.TempDir()
	other := writeExecutable(t, dir, "chromium", 0o755)

	_, err := FindExecutable(filepath.Join(dir, "missing"), []string{other}, noLookPath)
	require.Error(t, err)
}

func TestFindExecutableWalksCandidates(t *testing.T) {
	dir := t.TempDir()
	notExec := writeExecutable(t, dir, "chrome-data", 0o644)
	good := writeExecutable(t, dir, "chromium", 0o755)

	got, err := FindExecutable("", []string{"", filepath.Join(dir, "missing"), dir, notExec, good}, noLookPath)
	require.NoError(t, err)
	require.Equal(t, good, got)
}

func TestFindExecutableFallsBackToLookPath(t *testing.T) {
	got, err := FindExecutable("", []string{"/definitely/not/here"}, func() (string, bool) {
		return "/opt/chrome/chrome", true
	})
	require.NoError(t, err)
	require.Equal(t, "/opt/chrome/chrome", got)
}

func TestFindExecutableReportsNotFound(t *testing.T) {
	_, err := FindExecutable("", nil, noLookPath)
	require.ErrorIs(t, err, ErrNotFound)
}
