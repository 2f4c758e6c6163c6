package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterPayload(t *testing.T) {
	flagService = "auth"
	flagErrorCode = ""
	flagEnv = "prod"
	flagKeyword = ""
	t.Cleanup(func() {
		flagService, flagEnv = "", ""
	})

	filter := filterPayload()
	assert.Equal(t, map[string]string{"service": "auth", "env": "prod"}, filter)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"serve", "health", "search", "run", "replay", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestSearchRequiresArg(t *testing.T) {
	require.Error(t, searchCmd.Args(searchCmd, nil))
	require.NoError(t, searchCmd.Args(searchCmd, []string{"incident"}))
}
