package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := root.Execute()
	return out.String(), err
}

func TestPoliciesCommand_Table(t *testing.T) {
	out, err := runRoot(t, "policies")
	require.NoError(t, err)

	assert.Contains(t, out, "POLICY")
	assert.Contains(t, out, "leadMagnet")
	assert.Contains(t, out, "/api/lead-magnet")
	assert.Contains(t, out, "1h0m0s")
}

func TestPoliciesCommand_YAML(t *testing.T) {
	t.Setenv("RATE_POLICIES", "chat=30/1m")
	out, err := runRoot(t, "policies", "--output", "yaml")
	require.NoError(t, err)

	var doc struct {
		Policies []policyRow `yaml:"policies"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Policies, 5)

	byName := map[string]policyRow{}
	for _, p := range doc.Policies {
		byName[p.Name] = p
	}
	assert.Equal(t, 30, byName["chat"].Limit)
	assert.Equal(t, "1m0s", byName["chat"].Window)
	assert.Equal(t, []string{"/api/chat"}, byName["chat"].Routes)
	assert.Equal(t, []string{"/"}, byName["api"].Routes)
}

func TestPoliciesCommand_Errors(t *testing.T) {
	_, err := runRoot(t, "policies", "--output", "xml")
	require.Error(t, err)

	t.Setenv("RATE_POLICIES", "chat=abc")
	_, err = runRoot(t, "policies")
	require.Error(t, err)
}

func TestServeCommand_RequiresUpstream(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "")
	_, err := runRoot(t, "serve")
	require.Error(t, err)
}
