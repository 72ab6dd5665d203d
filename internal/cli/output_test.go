package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError(t *testing.T) {
	err := NewExitError(ExitCommandError, "bad flags")
	assert.Equal(t, "bad flags", err.Error())
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	wrapped := WrapExitError(ExitFailure, "run failed", errors.New("disk full"))
	assert.Equal(t, "run failed: disk full", wrapped.Error())
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.ErrorContains(t, errors.Unwrap(wrapped), "disk full")
}

func TestGetExitCode_WrappedAndPlain(t *testing.T) {
	inner := NewExitError(ExitCommandError, "nope")
	outer := fmt.Errorf("context: %w", inner)
	assert.Equal(t, ExitCommandError, GetExitCode(outer))

	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestOutputFormatter_JSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	require.True(t, f.JSON())

	require.NoError(t, f.Success(map[string]int{"count": 3}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(3), data["count"])
}

func TestOutputFormatter_Text(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}
	require.False(t, f.JSON())

	require.NoError(t, f.Success("all good"))
	assert.Equal(t, "all good\n", buf.String())
}
