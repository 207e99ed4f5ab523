package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
spatial:
  environment: enterprise
  plan_areas:
    path: /data/plan_areas.gpkg
store:
  project_id: city-gis
requests:
  admin_email: admin@city.example
output:
  root: /srv/requests
notify:
  sender: gis@city.example
  dry_run: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("FULFILLMENT_OUTPUT_ROOT", "")
	t.Setenv("FULFILLMENT_LOG_LEVEL", "")
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCheckConfig_Valid(t *testing.T) {
	path := writeConfig(t, validConfig)

	out, stderr, err := execute(t, "check-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path+" is valid")
	assert.Contains(t, stderr, "documents.source_root is not set")
}

func TestCheckConfig_Invalid(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	path := writeConfig(t, "notify:\n  dry_run: true\n")

	out, _, err := execute(t, "check-config", "--config", path)
	require.Error(t, err)
	assert.Contains(t, out, "  - store.project_id is required")
	assert.Contains(t, out, "  - output.root is required")
}

func TestCheckConfig_FromEnvironment(t *testing.T) {
	t.Setenv("FULFILLMENT_CONFIG", writeConfig(t, validConfig))

	_, _, err := execute(t, "check-config")
	require.NoError(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	_, _, err := execute(t, "catalog", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestCatalog(t *testing.T) {
	path := writeConfig(t, validConfig)

	out, _, err := execute(t, "catalog", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Water:\n")
	assert.Contains(t, out, "Storm:\n")
	assert.Contains(t, out, "Fire Hydrant")
	assert.Contains(t, out, "Sanitary Lift Station")
}

func TestCatalog_NamedLayer(t *testing.T) {
	path := writeConfig(t, validConfig)

	out, _, err := execute(t, "catalog", "--config", path, "fire hydrant")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Fire Hydrant\n"))
	assert.Contains(t, out, "categories: Water")
	assert.NotContains(t, out, "Storm:")

	_, _, err = execute(t, "catalog", "--config", path, "Gas Main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `layer "Gas Main" is not in the catalog`)
}

func TestWatch_InvalidSchedule(t *testing.T) {
	path := writeConfig(t, validConfig)

	_, _, err := execute(t, "watch", "--config", path, "--schedule", "sometimes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}
