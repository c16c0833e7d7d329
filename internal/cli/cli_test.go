package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"case-mail-router/internal/config"
)

func TestRootCommands(t *testing.T) {
	root := NewRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "reminders", "sync", "auth"}, names)

	cmd, _, err := root.Find([]string{"sync", "trigger"})
	require.NoError(t, err)
	assert.NotNil(t, cmd.Flags().Lookup("case"))
	assert.NotNil(t, cmd.Flags().Lookup("contact"))

	cmd, _, err = root.Find([]string{"reminders", "run"})
	require.NoError(t, err)
	assert.Equal(t, "run", cmd.Name())
}

func TestVersion(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), version)
}

func TestGmailOAuthConfig(t *testing.T) {
	oc := gmailOAuthConfig(config.GmailConfig{ClientID: "id", ClientSecret: "secret"}, "http://localhost/cb")

	assert.Equal(t, "id", oc.ClientID)
	assert.Len(t, oc.Scopes, 2)
	assert.Contains(t, oc.AuthCodeURL("s"), "client_id=id")
}
