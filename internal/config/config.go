package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendSQLite   = "sqlite"
	StoreBackendMongo    = "mongo"
)

type Config struct {
	// Store
	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`

	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"postgres"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"nettsperre"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"SQLITE_PATH" default:"nettsperre.db"`

	MongoConnectionString string `envconfig:"MONGODB_CONNECTION_STRING"`
	MongoDBName           string `envconfig:"MONGODB_DB_NAME" default:"nettsperre"`
	BlocksCollection      string `envconfig:"MONGODB_BLOCKS_COLLECTION" default:"blocks"`
	HistoryCollection     string `envconfig:"MONGODB_HISTORY_COLLECTION" default:"history"`

	// Entra ID app registration
	TenantID     string `envconfig:"AZURE_APP_TENANT_ID"`
	ClientID     string `envconfig:"AZURE_APP_ID"`
	ClientSecret string `envconfig:"AZURE_APP_SECRET"`
	Scope        string `envconfig:"AZURE_APP_SCOPE" default:"https://graph.microsoft.com/.default"`
	Audience     string `envconfig:"AZURE_APP_AUDIENCE" default:"Audience"`

	// Directory (Microsoft Graph)
	GraphBaseURL  string        `envconfig:"GRAPH_BASE_URL" default:"https://graph.microsoft.com/v1.0"`
	GraphTimeout  time.Duration `envconfig:"GRAPH_TIMEOUT" default:"30s"`
	GraphPageSize int           `envconfig:"GRAPH_PAGE_SIZE" default:"100"`
	EmailDomain   string        `envconfig:"EMAIL_DOMAIN"`

	// Statistics sink
	StatisticsURL string `envconfig:"STATISTICS_URL"`
	StatisticsKey string `envconfig:"STATISTICS_KEY"`

	// Block type -> directory group
	EksamenGroupID   string `envconfig:"NETTPSERRE_EKSAMEN_GROUP_ID"`
	ProveGroupID     string `envconfig:"NETTPSERRE_PROVE_GROUP_ID"`
	TeamsGroupID     string `envconfig:"NETTPSERRE_TEAMS_GROUP_ID"`
	OfflineGroupID   string `envconfig:"NETTPSERRE_OFFLINE_GROUP_ID"`
	FormsGroupID     string `envconfig:"NETTPSERRE_FORMS_GROUP_ID"`
	FormsFileGroupID string `envconfig:"NETTPSERRE_FORMSFILE_GROUP_ID"`
	BlockTypesFile   string `envconfig:"BLOCK_TYPES_FILE"`

	// Companies whose staff may manage blocks for any school.
	AllowedCompanies []string `envconfig:"SKIPVALIDATION"`

	// Lifecycle
	TimeZone            string        `envconfig:"TIME_ZONE" default:"Europe/Oslo"`
	StatusPolicy        string        `envconfig:"STATUS_POLICY" default:"always"`
	InterBlockDelay     time.Duration `envconfig:"INTER_BLOCK_DELAY" default:"1s"`
	ReconcileMaxRetries int           `envconfig:"RECONCILE_MAX_RETRIES" default:"2"`
	ReconcileRetryDelay time.Duration `envconfig:"RECONCILE_RETRY_DELAY" default:"2s"`
	ActivateInterval    time.Duration `envconfig:"ACTIVATE_INTERVAL" default:"5m"`
	DeactivateInterval  time.Duration `envconfig:"DEACTIVATE_INTERVAL" default:"5m"`
	ArchiveInterval     time.Duration `envconfig:"ARCHIVE_INTERVAL" default:"1h"`
	ArchiveLimit        int           `envconfig:"ARCHIVE_LIMIT" default:"25"`

	// Logging
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
	LogRetention time.Duration `envconfig:"LOG_RETENTION" default:"720h"`

	// Server
	Port        string        `envconfig:"PORT" default:"8080"`
	CORSOrigins string        `envconfig:"CORS_ORIGINS" default:"*"`
	CORSMaxAge  time.Duration `envconfig:"CORS_MAX_AGE" default:"1h"`
	AdminToken  string        `envconfig:"ADMIN_TOKEN"`

	// Error tracking
	SentryDSN string `envconfig:"SENTRY_DSN"`
	AppEnv    string `envconfig:"APP_ENV" default:"development"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings every entry point needs.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DBPassword == "" {
			errs = append(errs, errors.New("DB_PASSWORD is required for the postgres store"))
		}
	case StoreBackendSQLite:
	case StoreBackendMongo:
		if c.MongoConnectionString == "" {
			errs = append(errs, errors.New("MONGODB_CONNECTION_STRING is required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "" {
		errs = append(errs, errors.New("AZURE_APP_TENANT_ID, AZURE_APP_ID and AZURE_APP_SECRET are required"))
	}
	if c.EmailDomain == "" {
		errs = append(errs, errors.New("EMAIL_DOMAIN is required"))
	}
	if c.StatusPolicy != "always" && c.StatusPolicy != "on-success" {
		errs = append(errs, fmt.Errorf("unknown STATUS_POLICY %q", c.StatusPolicy))
	}
	if c.GraphPageSize < 1 || c.GraphPageSize > 999 {
		errs = append(errs, fmt.Errorf("GRAPH_PAGE_SIZE must be between 1 and 999, got %d", c.GraphPageSize))
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIME_ZONE: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

// StudentUPNSuffix is the principal name suffix of student accounts.
func (c *Config) StudentUPNSuffix() string {
	return "@skole." + strings.ToLower(c.EmailDomain)
}

// Issuers are the token issuers of the tenant's v1 and v2 endpoints.
func (c *Config) Issuers() []string {
	return []string{
		"https://sts.windows.net/" + c.TenantID + "/",
		"https://login.microsoftonline.com/" + c.TenantID + "/v2.0",
	}
}

func (c *Config) JWKSURL() string {
	return "https://login.microsoftonline.com/" + c.TenantID + "/discovery/v2.0/keys"
}

func (c *Config) TokenURL() string {
	return "https://login.microsoftonline.com/" + c.TenantID + "/oauth2/v2.0/token"
}

// BlockGroups is the block type to group mapping taken from the environment.
// Types without a configured group are left out.
func (c *Config) BlockGroups() map[string]string {
	all := map[string]string{
		"eksamen":   c.EksamenGroupID,
		"prove":     c.ProveGroupID,
		"teams":     c.TeamsGroupID,
		"fullBlock": c.OfflineGroupID,
		"forms":     c.FormsGroupID,
		"formsFile": c.FormsFileGroupID,
	}
	groups := make(map[string]string, len(all))
	for blockType, groupID := range all {
		if groupID != "" {
			groups[blockType] = groupID
		}
	}
	return groups
}
