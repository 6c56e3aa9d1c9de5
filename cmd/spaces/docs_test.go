package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacesbuild/spaces/internal/errs"
)

func TestRunDocsSucceeds(t *testing.T) {
	code := runDocs(nil)
	require.Equal(t, int(errs.ExitSuccess), code)
}

func TestRunDocsRejectsUnknownFlag(t *testing.T) {
	code := runDocs([]string{"--bogus"})
	assert.Equal(t, int(errs.ExitUsage), code)
}
