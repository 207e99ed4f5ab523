package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lllllllleong/gisrequestflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
spatial:
  environment: online
  credentials:
    key_id: AKIA
    secret: ${TEST_SPATIAL_SECRET}
  plan_areas:
    path: s3://gis/plan_areas.parquet
store:
  project_id: city-gis
requests:
  approved_emails: ["Engineer@City.gov", " ops@city.gov "]
  admin_email: gis-admin@city.gov
output:
  root: /srv/requests
  link_base: https://city.sharepoint.com/requests
documents:
  source_root: /srv/asbuilts
notify:
  sender: gis@city.gov
  dry_run: true
`

func TestParse_DefaultsAndExpansion(t *testing.T) {
	t.Setenv("TEST_SPATIAL_SECRET", "s3cr3t")
	t.Setenv("FULFILLMENT_OUTPUT_ROOT", "")
	t.Setenv("FULFILLMENT_LOG_LEVEL", "")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", cfg.Spatial.Credentials.Secret)
	assert.Equal(t, "ID", cfg.Spatial.PlanAreas.IDField)
	assert.Equal(t, "survey_requests", cfg.Store.Collection)
	assert.Equal(t, "FulfilledDate", cfg.Store.Fields.Fulfilled)
	assert.Equal(t, "gis_files_fulfilled", cfg.Store.Fields.LayersFulfilled)
	assert.Equal(t, DefaultIndexFields, cfg.Documents.IndexFields)
	assert.Equal(t, 10, cfg.Logging.RetentionDays)
	assert.Equal(t, "@every 15m", cfg.Schedule.Cron)
	assert.Equal(t, "city-gis", cfg.Handoff.ProjectID)
	assert.False(t, cfg.Handoff.Enabled())

	require.NoError(t, cfg.Validate())
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("TEST_SPATIAL_SECRET", "x")
	t.Setenv("FULFILLMENT_OUTPUT_ROOT", "/tmp/out")
	t.Setenv("FULFILLMENT_LOG_LEVEL", "debug")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out", cfg.Output.Root)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestParse_LiteralDollarKept(t *testing.T) {
	t.Setenv("TEST_GRAPH_TENANT", "tenant-1")
	t.Setenv("b", "expanded")
	t.Setenv("cd", "expanded")

	cfg, err := Parse([]byte("notify:\n  tenant_id: ${TEST_GRAPH_TENANT}\n  client_secret: \"ab$cd\"\noutput:\n  link_base: \"https://x/y?a=$b\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", cfg.Notify.TenantID)
	assert.Equal(t, "ab$cd", cfg.Notify.ClientSecret)
	assert.Equal(t, "https://x/y?a=$b", cfg.Output.LinkBase)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("FULFILLMENT_OUTPUT_ROOT", "")
	t.Setenv("FULFILLMENT_LOG_LEVEL", "")

	cfg, err := Parse([]byte("spatial:\n  environment: cloud\nlogging:\n  level: loud\n"))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"spatial.environment",
		"spatial.plan_areas.path is required",
		"store.project_id is required",
		"output.root is required",
		"requests.admin_email is required",
		"notify.client_secret is required",
		`logging.level "loud"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_BadCatalog(t *testing.T) {
	t.Setenv("TEST_SPATIAL_SECRET", "x")
	cfg, err := Parse([]byte(sample + "\n"))
	require.NoError(t, err)
	c, err := cfg.Catalog()
	require.NoError(t, err)
	assert.Len(t, c.Layers(), 18)

	cfg.Spatial.Catalog = []models.LayerDescriptor{
		{Name: "Water Main", Path: "/wm", Categories: []models.Utility{models.UtilityWater}},
		{Name: "water main", Path: "/wm2", Categories: []models.Utility{models.UtilityWater}},
	}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate layer")
}

func TestWarnings(t *testing.T) {
	cfg := &Config{}
	assert.Len(t, cfg.Warnings(), 2)
}

func TestIsApproved(t *testing.T) {
	r := RequestsConfig{ApprovedEmails: []string{"Engineer@City.gov", " ops@city.gov "}}
	assert.True(t, r.IsApproved("engineer@city.gov"))
	assert.True(t, r.IsApproved("OPS@city.gov"))
	assert.False(t, r.IsApproved("someone@city.gov"))
	assert.False(t, r.IsApproved("city.gov"))
}

func TestResolvePath(t *testing.T) {
	t.Setenv("FULFILLMENT_CONFIG", "")
	assert.Equal(t, DefaultPath, ResolvePath(""))
	t.Setenv("FULFILLMENT_CONFIG", "/etc/fulfill.yaml")
	assert.Equal(t, "/etc/fulfill.yaml", ResolvePath(""))
	assert.Equal(t, "cli.yaml", ResolvePath("cli.yaml"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestSetupRunLogger_DiscardRemovesFile(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)

	logger, runLog := SetupRunLogger(dir, slog.LevelInfo, start)
	logger.Info("hello")
	assert.Equal(t, filepath.Join(dir, "2025-06-01_14.30.log"), runLog.Path)
	require.FileExists(t, runLog.Path)

	require.NoError(t, runLog.Discard())
	_, err := os.Stat(runLog.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("shown", "requestId", "abc")

	assert.Contains(t, stderr.String(), "requestId=abc")
	assert.Contains(t, file.String(), `"requestId":"abc"`)
	assert.NotContains(t, file.String(), "hidden")
}
