package container

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitEntrypointSimple(t *testing.T) {
	words, err := splitEntrypoint("/bin/echo hi")
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/echo", "hi"}, words)
}

func TestSplitEntrypointQuotedArgument(t *testing.T) {
	words, err := splitEntrypoint(`/bin/sh -c 'echo hi there'`)
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/sh", "-c", "echo hi there"}, words)
}

func TestSplitEntrypointDoubleQuotesAndEscapes(t *testing.T) {
	words, err := splitEntrypoint(`/bin/sh -c "echo \"hi\""`)
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/sh", "-c", `echo "hi"`}, words)
}

func TestSplitEntrypointRejectsUnterminatedQuote(t *testing.T) {
	_, err := splitEntrypoint(`/bin/sh -c 'echo hi`)
	require.Error(t, err)
}

func TestSplitEntrypointRejectsEmptyCommand(t *testing.T) {
	_, err := splitEntrypoint("   ")
	require.Error(t, err)
}
