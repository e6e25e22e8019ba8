package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecCapturesOutputAndExitCode(t *testing.T) {
	r := NewExec()
	res, err := r.Run(context.Background(), t.TempDir(), 2*time.Second, "sh", "-c", "echo out; echo err 1>&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
}

func TestFakeReturnsScriptedResult(t *testing.T) {
	f := NewFake().WithResult("npm install", Result{ExitCode: 0, Stdout: "installed"})
	res, err := f.Run(context.Background(), "/tmp/x", time.Second, "npm", "install")
	require.NoError(t, err)
	assert.Equal(t, "installed", res.Stdout)
	require.Len(t, f.Calls, 1)
	assert.Equal(t, "/tmp/x", f.Calls[0].Dir)
}

func TestFakeReturnsScriptedError(t *testing.T) {
	f := NewFake().WithError("git clone", assert.AnError)
	_, err := f.Run(context.Background(), "/tmp/x", time.Second, "git", "clone")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestFakeFallsBackToDefault(t *testing.T) {
	f := NewFake()
	f.Default = Result{ExitCode: 0}
	res, err := f.Run(context.Background(), "/tmp", time.Second, "anything")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}
