package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a minimal valid runtime config and returns its
// path. The credentials key is 32 bytes of zeros, hex encoded.
func writeTestConfig(t *testing.T, dataDir string) string {
	t.Helper()
	body := fmt.Sprintf(`{
  "data_dir": %q,
  "providers": [{"id": "default", "provider": "anthropic", "api_key": "sk-test"}],
  "credentials": {"key": "%064d"}
}`, dataDir, 0)

	path := filepath.Join(t.TempDir(), "relaydesk.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	cmd.SetArgs(args)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)

	err := cmd.Execute()
	return output.String(), err
}

func TestValidateCommand(t *testing.T) {
	dataDir := t.TempDir()
	path := writeTestConfig(t, dataDir)

	output, err := runCLI(t, "validate", "--config", path)
	require.NoError(t, err)

	assert.Contains(t, output, "Configuration OK")
	assert.Contains(t, output, "providers: 1")
}

func TestValidateCommandWithAgentCatalog(t *testing.T) {
	dataDir := t.TempDir()
	path := writeTestConfig(t, dataDir)

	agentDir := filepath.Join(dataDir, "agents", "org-1")
	require.NoError(t, os.MkdirAll(agentDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "support-bot.json"), []byte(`{
  "id": "support-bot",
  "instructions": "You help customers.",
  "model": "claude-sonnet-4-20250514",
  "is_active": true
}`), 0o644))

	output, err := runCLI(t, "validate", "--config", path, "--org", "org-1")
	require.NoError(t, err)

	assert.Contains(t, output, "agents (org-1): 1")
	assert.Contains(t, output, "support-bot")
}

func TestValidateCommandRejectsBrokenConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaydesk.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"providers": []}`), 0o644))

	_, err := runCLI(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}

func TestSealCommand(t *testing.T) {
	dataDir := t.TempDir()
	path := writeTestConfig(t, dataDir)

	output, err := runCLI(t, "seal", "super-secret-token", "--config", path)
	require.NoError(t, err)

	assert.Contains(t, output, "enc:v1:")
	assert.NotContains(t, output, "super-secret-token")
}

func TestSealCommandRequiresKey(t *testing.T) {
	body := `{"providers": [{"id": "default", "provider": "anthropic", "api_key": "sk-test"}]}`
	path := filepath.Join(t.TempDir(), "relaydesk.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := runCLI(t, "seal", "value", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials key")
}
