// Package config loads the settings document shared by the CLI and the Cloud Function.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/Lllllllleong/gisrequestflow/internal/models"
	"gopkg.in/yaml.v3"
)

// Spatial service environments.
const (
	EnvironmentOnline     = "online"
	EnvironmentEnterprise = "enterprise"
)

// DefaultPath is used when neither --config nor FULFILLMENT_CONFIG is given.
const DefaultPath = "config.yaml"

// Config is the settings document. It is read once at startup and passed explicitly to
// every constructor.
type Config struct {
	Spatial   SpatialConfig   `yaml:"spatial"`
	Store     StoreConfig     `yaml:"store"`
	Requests  RequestsConfig  `yaml:"requests"`
	Output    OutputConfig    `yaml:"output"`
	Documents DocumentsConfig `yaml:"documents"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Handoff   HandoffConfig   `yaml:"handoff"`
	Schedule  ScheduleConfig  `yaml:"schedule"`

	// Path is the file the document was loaded from.
	Path string `yaml:"-"`
}

// SpatialConfig selects and authenticates the spatial backend.
type SpatialConfig struct {
	Environment string                   `yaml:"environment"`
	DuckDBPath  string                   `yaml:"duckdb_path"`
	Credentials SpatialCredentials       `yaml:"credentials"`
	PlanAreas   PlanAreasConfig          `yaml:"plan_areas"`
	Catalog     []models.LayerDescriptor `yaml:"catalog"`
}

// SpatialCredentials is the object-store secret used by the online environment.
type SpatialCredentials struct {
	Type     string `yaml:"type"`
	KeyID    string `yaml:"key_id"`
	Secret   string `yaml:"secret"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// PlanAreasConfig locates the record-document footprint layer.
type PlanAreasConfig struct {
	Path    string `yaml:"path"`
	IDField string `yaml:"id_field"`
}

// StoreConfig locates the survey records in Firestore.
type StoreConfig struct {
	ProjectID       string      `yaml:"project_id"`
	Collection      string      `yaml:"collection"`
	CredentialsFile string      `yaml:"credentials_file"`
	Fields          FieldConfig `yaml:"fields"`
}

// FieldConfig maps record attributes to store field names.
type FieldConfig struct {
	Email              string `yaml:"email"`
	FolderName         string `yaml:"folder_name"`
	Utilities          string `yaml:"utilities"`
	Outputs            string `yaml:"outputs"`
	CreatedAt          string `yaml:"created_at"`
	Fulfilled          string `yaml:"fulfilled"`
	DocumentsFulfilled string `yaml:"documents_fulfilled"`
	LayersFulfilled    string `yaml:"layers_fulfilled"`
	AreaOfInterest     string `yaml:"area_of_interest"`
}

// StatusField returns the store field name backing f.
func (c FieldConfig) StatusField(f models.StatusField) string {
	switch f {
	case models.StatusDocuments:
		return c.DocumentsFulfilled
	case models.StatusLayers:
		return c.LayersFulfilled
	default:
		return c.Fulfilled
	}
}

// RequestsConfig holds the requester policy.
type RequestsConfig struct {
	ApprovedEmails []string `yaml:"approved_emails"`
	AdminEmail     string   `yaml:"admin_email"`
}

// IsApproved reports whether email is on the approved-requester list. The match is
// case-insensitive and exact.
func (c RequestsConfig) IsApproved(email string) bool {
	email = strings.TrimSpace(email)
	for _, a := range c.ApprovedEmails {
		if strings.EqualFold(strings.TrimSpace(a), email) {
			return true
		}
	}
	return false
}

// OutputConfig is where request folders are created and how they are linked.
type OutputConfig struct {
	Root     string `yaml:"root"`
	LinkBase string `yaml:"link_base"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
}

// DocumentsConfig locates the scanned record documents.
type DocumentsConfig struct {
	SourceRoot  string   `yaml:"source_root"`
	IndexFields []string `yaml:"index_fields"`
}

// NotifyConfig holds the Microsoft Graph application credentials.
type NotifyConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
	Endpoint     string `yaml:"endpoint"`
	DryRun       bool   `yaml:"dry_run"`
}

// LoggingConfig controls the per-run log file.
type LoggingConfig struct {
	Dir           string `yaml:"dir"`
	Level         string `yaml:"level"`
	RetentionDays int    `yaml:"retention_days"`
}

// MetricsConfig is optional; an empty pushgateway disables pushing.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// HandoffConfig is optional; an empty workflow id disables the hand-off.
type HandoffConfig struct {
	ProjectID  string `yaml:"project_id"`
	Location   string `yaml:"location"`
	WorkflowID string `yaml:"workflow_id"`
}

// Enabled reports whether a workflow execution should follow each fulfilled request.
func (c HandoffConfig) Enabled() bool {
	return c.WorkflowID != ""
}

// ScheduleConfig drives `fulfill watch`.
type ScheduleConfig struct {
	Cron string `yaml:"cron"`
}

// DefaultIndexFields are the plan-area attributes carried into Index.csv.
var DefaultIndexFields = []string{
	"AB_Date", "Water", "Sanitary", "Storm", "FiberElec", "Grading",
	"Street", "Hyperlink", "ProjectNum", "ProjectName", "InstallYear", "Irrigation",
}

// ResolvePath picks the settings path from the flag value, then FULFILLMENT_CONFIG.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	return getEnv("FULFILLMENT_CONFIG", DefaultPath)
}

// Load reads the settings document at path, expands ${VAR} references, applies
// defaults and environment overrides. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// envRef matches the ${VAR} form only. A bare $ is literal text.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRef.FindStringSubmatch(m)[1])
	})
}

// Parse decodes a settings document held in memory.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnv(string(data))
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Spatial.Environment == "" {
		c.Spatial.Environment = EnvironmentEnterprise
	}
	if c.Spatial.PlanAreas.IDField == "" {
		c.Spatial.PlanAreas.IDField = "ID"
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "survey_requests"
	}
	f := &c.Store.Fields
	setDefault(&f.Email, "email")
	setDefault(&f.FolderName, "specify_desired_output_folder_n")
	setDefault(&f.Utilities, "utilities")
	setDefault(&f.Outputs, "desired_output")
	setDefault(&f.CreatedAt, "CreationDate")
	setDefault(&f.Fulfilled, "FulfilledDate")
	setDefault(&f.DocumentsFulfilled, "as_builts_fulfilled")
	setDefault(&f.LayersFulfilled, "gis_files_fulfilled")
	setDefault(&f.AreaOfInterest, "aoi_wkt")
	if len(c.Documents.IndexFields) == 0 {
		c.Documents.IndexFields = append([]string(nil), DefaultIndexFields...)
	}
	setDefault(&c.Notify.Endpoint, "https://graph.microsoft.com")
	setDefault(&c.Logging.Dir, "logs")
	setDefault(&c.Logging.Level, "info")
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 10
	}
	setDefault(&c.Metrics.Job, "gis-request-fulfillment")
	setDefault(&c.Handoff.Location, "us-central1")
	setDefault(&c.Schedule.Cron, "@every 15m")
}

func (c *Config) applyEnv() {
	if v := getEnv("FULFILLMENT_OUTPUT_ROOT", ""); v != "" {
		c.Output.Root = v
	}
	if v := getEnv("FULFILLMENT_LOG_LEVEL", ""); v != "" {
		c.Logging.Level = v
	}
	if c.Store.ProjectID == "" {
		c.Store.ProjectID = getEnv("GOOGLE_CLOUD_PROJECT", "")
	}
	if c.Handoff.ProjectID == "" {
		c.Handoff.ProjectID = c.Store.ProjectID
	}
}

// Validate reports every missing or invalid run-level setting at once. Settings that
// only affect one sub-output, such as the document source root, are checked by the
// engine that needs them so the other sub-output can still run.
func (c *Config) Validate() error {
	var errs []error
	missing := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	switch c.Spatial.Environment {
	case EnvironmentOnline, EnvironmentEnterprise:
	default:
		errs = append(errs, fmt.Errorf("spatial.environment must be %q or %q, got %q", EnvironmentOnline, EnvironmentEnterprise, c.Spatial.Environment))
	}
	if c.Spatial.Environment == EnvironmentOnline {
		missing("spatial.credentials.key_id", c.Spatial.Credentials.KeyID)
		missing("spatial.credentials.secret", c.Spatial.Credentials.Secret)
	}
	missing("spatial.plan_areas.path", c.Spatial.PlanAreas.Path)
	missing("store.project_id", c.Store.ProjectID)
	missing("output.root", c.Output.Root)
	missing("requests.admin_email", c.Requests.AdminEmail)
	missing("notify.sender", c.Notify.Sender)
	if !c.Notify.DryRun {
		missing("notify.tenant_id", c.Notify.TenantID)
		missing("notify.client_id", c.Notify.ClientID)
		missing("notify.client_secret", c.Notify.ClientSecret)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Catalog(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Warnings lists settings whose absence disables part of the pipeline.
func (c *Config) Warnings() []string {
	var out []string
	if strings.TrimSpace(c.Documents.SourceRoot) == "" {
		out = append(out, "documents.source_root is not set; document requests will fail until it is")
	}
	if c.Output.LinkBase == "" {
		out = append(out, "output.link_base is not set; emails will link to local folder paths")
	}
	return out
}

// Catalog builds the layer catalog, falling back to the built-in one.
func (c *Config) Catalog() (*models.Catalog, error) {
	layers := c.Spatial.Catalog
	if len(layers) == 0 {
		layers = models.DefaultLayers()
	}
	return models.NewCatalog(layers)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", s)
}

func setDefault(field *string, v string) {
	if strings.TrimSpace(*field) == "" {
		*field = v
	}
}

// getEnv reads key, treating an empty variable as unset so a blank export never
// overrides a configured value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
