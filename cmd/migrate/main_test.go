package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/errutil"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	configFile = ""
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"up", "down", "reset", "version", "force", "seed"})
}

func TestRequiresDatabaseURL(t *testing.T) {
	t.Setenv("STUDIODESK_DATABASE__URL", "")
	for _, args := range [][]string{{"up"}, {"version"}, {"seed"}} {
		err := execute(t, args...)
		require.Error(t, err, args)
		assert.True(t, errors.Is(err, auth.ErrConfiguration) || errutil.Code(err) == auth.CodeConfiguration, args)
	}
}

func TestForce_RejectsNonNumericVersion(t *testing.T) {
	err := execute(t, "force", "latest", "--database.url", "postgres://localhost/studiodesk")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INVALID_VERSION")
}

func TestRejectsExtraArgs(t *testing.T) {
	assert.Error(t, execute(t, "up", "now"))
	assert.Error(t, execute(t, "force"))
}
