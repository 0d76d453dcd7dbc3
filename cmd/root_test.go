//go:build !integration

package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "import", "jobs", "credits", "credentials", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "property-import", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestImportCommand_Flags(t *testing.T) {
	for _, name := range []string{"account", "mode", "target", "type", "credential", "provider", "locale", "format"} {
		assert.NotNil(t, importCmd.Flags().Lookup(name), "import should have --%s flag", name)
	}
	assert.Equal(t, "new", importCmd.Flags().Lookup("mode").DefValue)
	assert.Equal(t, "table", importCmd.Flags().Lookup("format").DefValue)
}

func TestSubcommandTrees(t *testing.T) {
	tests := []struct {
		parent *cobra.Command
		want   []string
	}{
		{jobsCmd, []string{"list", "show"}},
		{creditsCmd, []string{"show", "usage", "set-quota", "personal-mode"}},
		{credentialsCmd, []string{"add", "list"}},
	}
	for _, tt := range tests {
		t.Run(tt.parent.Name(), func(t *testing.T) {
			names := make(map[string]bool)
			for _, c := range tt.parent.Commands() {
				names[c.Name()] = true
			}
			for _, w := range tt.want {
				assert.True(t, names[w], "%s should have subcommand %q", tt.parent.Name(), w)
			}
		})
	}
}
