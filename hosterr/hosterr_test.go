package hosterr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundErrorMatchesSentinelViaErrorsIs(t *testing.T) {
	err := NewNotFoundError("tool", "echo")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), `tool "echo" not found`)
}

func TestNotConnectedErrorMatchesSentinel(t *testing.T) {
	err := NewNotConnectedError("widget", "stopped")
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestSecurityBlockedMatchesSentinel(t *testing.T) {
	err := NewSecurityBlocked("high", []string{"child_process.exec"})
	assert.True(t, errors.Is(err, ErrSecurityBlocked))
	assert.Contains(t, err.Error(), "risk=high")
}

func TestTransportErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("broken pipe")
	err := NewTransportError("widget", "write failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transport[widget]")
}

func TestIsTimeoutRecognizesTimeoutError(t *testing.T) {
	err := NewTimeoutError("tools/call", 0)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsTimeout(errors.New("unrelated")))
}

func TestIsTransportRecognizesTransportError(t *testing.T) {
	err := NewTransportError("widget", "spawn failed", nil)
	assert.True(t, IsTransport(err))
	assert.False(t, IsTransport(errors.New("unrelated")))
}

func TestInstallErrorWrapsStageAndURL(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewInstallError("build", "https://github.com/acme/widget", "npm run build failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "install[https://github.com/acme/widget] stage=build")
}

func TestRegistryErrorWrapsServerID(t *testing.T) {
	err := NewRegistryError("widget", "write failed", errors.New("disk full"))
	assert.Contains(t, err.Error(), "registry[widget]")
}
