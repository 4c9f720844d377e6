package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	id := uuid.New()
	got, err := parseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = parseID("feature-1")
	assert.ErrorContains(t, err, `invalid feature id "feature-1"`)
}

func TestCommandArgs(t *testing.T) {
	assert.Error(t, mergeCmd.Args(mergeCmd, []string{"only-one"}))
	assert.NoError(t, mergeCmd.Args(mergeCmd, []string{"a", "b"}))
	assert.Error(t, similarCmd.Args(similarCmd, nil))
	assert.Error(t, reprocessCmd.Args(reprocessCmd, []string{"extra"}))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"reprocess", "merge", "similar", "recalc"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, reprocessCmd.Flags().Lookup("limit"))
	assert.NotNil(t, similarCmd.Flags().Lookup("threshold"))
}
