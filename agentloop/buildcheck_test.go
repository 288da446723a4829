package agentloop

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuildChecker(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    string
	}{
		{name: "success", command: "echo building; exit 0", want: ""},
		{name: "failure with output", command: "echo 'error: expected ;' >&2; exit 1", want: "error: expected ;"},
		{name: "combined output", command: "echo out; echo err >&2; exit 2", want: "out\nerr"},
		{name: "silent failure", command: "exit 3", want: "exit status 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewCommandBuildChecker(t.TempDir(), tt.command, 10*time.Second, nil)
			got, err := checker.Check(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandBuildCheckerRunsInProjectDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("here"), 0644))

	checker := NewCommandBuildChecker(dir, `test -f marker && test -f "$CODEPORT_PROJECT_DIR/marker" || { echo wrong dir; exit 1; }`, 10*time.Second, nil)
	got, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCommandBuildCheckerFiltersSecrets(t *testing.T) {
	t.Setenv("CODEPORT_TEST_API_KEY", "secret")
	checker := NewCommandBuildChecker(t.TempDir(), `test -z "$CODEPORT_TEST_API_KEY" || { echo leaked; exit 1; }`, 10*time.Second, nil)
	got, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCommandBuildCheckerTimeout(t *testing.T) {
	checker := NewCommandBuildChecker(t.TempDir(), "sleep 10", 100*time.Millisecond, nil)
	start := time.Now()
	_, err := checker.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCommandBuildCheckerMissingDir(t *testing.T) {
	checker := NewCommandBuildChecker(filepath.Join(t.TempDir(), "missing"), "true", time.Second, nil)
	_, err := checker.Check(context.Background())
	require.Error(t, err)
}
