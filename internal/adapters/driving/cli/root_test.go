package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_RegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}

	for _, want := range []string{"serve", "ingest", "status", "version"} {
		assert.True(t, names[want], "command %s not registered", want)
	}
}

func TestServeCmd_Flags(t *testing.T) {
	port := serveCmd.Flags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, "0", port.DefValue)

	require.NotNil(t, serveCmd.Flags().Lookup("no-kernel-container"))
	require.NotNil(t, serveCmd.Flags().Lookup("kernel-url"))
}

func TestIngestCmd_RequiresPattern(t *testing.T) {
	err := ingestCmd.Args(ingestCmd, []string{})
	assert.Error(t, err)

	err = ingestCmd.Args(ingestCmd, []string{"docs/**/*.md"})
	assert.NoError(t, err)
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("verbose"))
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("state-dir"))
}
