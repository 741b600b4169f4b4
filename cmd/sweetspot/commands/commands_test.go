package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/sweetspot/internal/domain"
)

func TestParseID(t *testing.T) {
	id, err := parseID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := parseID(bad)
		assert.True(t, domain.IsType(err, domain.ErrorTypeValidation), bad)
	}
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "(not set)", maskKey(""))
	assert.Equal(t, "*****", maskKey("short"))
	assert.Equal(t, "sk-a********wxyz", maskKey("sk-abcdefghiwxyz"))
}

func TestCommandTree(t *testing.T) {
	want := []string{"add", "backups", "clear", "config", "delete", "edit", "export",
		"import", "ingest", "init", "list", "report", "reset", "sync", "undo"}
	var got []string
	for _, c := range rootCmd.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}

	for _, path := range [][]string{
		{"sync", "upload"}, {"sync", "download"}, {"sync", "authorize"}, {"sync", "status"},
		{"backups", "list"}, {"backups", "archive"}, {"config", "set-api-key"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[1], cmd.Name())
	}
}
