package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/tenancy-backfill/pkg/logging"
)

var DefaultEnvFiles = []string{".env", ".env.local"}

var singleton = sync.OnceValues(func() (*Configuration, error) {
	return Load(DefaultEnvFiles)
})

var sessionVariablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)+$`)

// LoadEnv loads the env files found in the working directory. When none
// exists there it retries from the nearest directory holding a go.mod.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles("", envFiles)
	if len(existing) == 0 {
		if root := moduleRoot(); root != "" {
			existing = existingFiles(root, envFiles)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(dir string, envFiles []string) []string {
	out := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		path := file
		if dir != "" {
			path = filepath.Join(dir, file)
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			out = append(out, path)
		}
	}
	return out
}

func moduleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts           string        `env:"-"`
	Name           string        `env:"DB_NAME" envDefault:"app"`
	Host           string        `env:"DB_HOST" envDefault:"localhost"`
	Port           string        `env:"DB_PORT" envDefault:"5432"`
	User           string        `env:"DB_USER" envDefault:"postgres"`
	Password       string        `env:"DB_PASSWORD" envDefault:"postgres"`
	SSLMode        string        `env:"DB_SSLMODE" envDefault:"disable"`
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"10s"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.Password, d.SSLMode,
	)
}

type TenancyOptions struct {
	DefaultOrgCode     string `env:"TENANCY_DEFAULT_ORG_CODE" envDefault:"DEFAULT"`
	DefaultOrgName     string `env:"TENANCY_DEFAULT_ORG_NAME"`
	ChunkSize          int    `env:"TENANCY_CHUNK_SIZE" envDefault:"25"`
	MismatchSampleSize int    `env:"TENANCY_MISMATCH_SAMPLE_SIZE" envDefault:"5"`
	AuditPageSize      int    `env:"TENANCY_AUDIT_PAGE_SIZE" envDefault:"500"`
	// TableMap points at an optional YAML or TOML file renaming tables and the tenant column.
	TableMap string `env:"TENANCY_TABLE_MAP"`
}

type PolicyOptions struct {
	Prefix          string   `env:"RLS_POLICY_PREFIX" envDefault:"rls_org"`
	SessionVariable string   `env:"RLS_SESSION_VARIABLE" envDefault:"app.current_organization_id"`
	Roles           []string `env:"RLS_POLICY_ROLES" envSeparator:"," envDefault:"PUBLIC"`
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"org-tenancy"`
}

type PrometheusOptions struct {
	PushgatewayURL string `env:"PROMETHEUS_PUSHGATEWAY_URL"`
	Job            string `env:"PROMETHEUS_JOB" envDefault:"org-tenancy"`
}

type Configuration struct {
	Database      DatabaseOptions
	Tenancy       TenancyOptions
	Policy        PolicyOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogPath  string `env:"LOG_PATH"`

	logFile *os.File
	logger  *logrus.Logger
}

// Use loads the process configuration once. Later calls return the same
// result, including a load error.
func Use() (*Configuration, error) {
	return singleton()
}

// Load reads env files and the process environment into a new Configuration.
func Load(envFiles []string) (*Configuration, error) {
	c := &Configuration{}
	if err := c.load(envFiles); err != nil {
		c.Unload()
		return nil, err
	}
	return c, nil
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	return logging.ParseLevel(c.LogLevel)
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.validateLogLevel(); err != nil {
		return err
	}
	if err := c.validateTenancy(); err != nil {
		return err
	}
	if err := c.validatePolicy(); err != nil {
		return err
	}

	if c.LogPath != "" {
		f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
		if err != nil {
			return err
		}
		c.logFile = f
		c.logger = logger
	} else {
		c.logger = logging.ConsoleLogger(c.LogrusLogLevel())
	}

	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

func (c *Configuration) validateLogLevel() error {
	level := strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch level {
	case "", "silent", "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("invalid LOG_LEVEL=%q (expected silent|error|warn|info|debug)", c.LogLevel)
	}
	c.LogLevel = level
	return nil
}

func (c *Configuration) validateTenancy() error {
	t := &c.Tenancy
	t.DefaultOrgCode = strings.TrimSpace(t.DefaultOrgCode)
	if t.DefaultOrgCode == "" {
		return fmt.Errorf("TENANCY_DEFAULT_ORG_CODE must not be empty")
	}
	if t.ChunkSize < 1 {
		return fmt.Errorf("invalid TENANCY_CHUNK_SIZE=%d (expected >= 1)", t.ChunkSize)
	}
	if t.MismatchSampleSize < 0 {
		return fmt.Errorf("invalid TENANCY_MISMATCH_SAMPLE_SIZE=%d (expected >= 0)", t.MismatchSampleSize)
	}
	if t.AuditPageSize < 1 {
		return fmt.Errorf("invalid TENANCY_AUDIT_PAGE_SIZE=%d (expected >= 1)", t.AuditPageSize)
	}
	return nil
}

func (c *Configuration) validatePolicy() error {
	p := &c.Policy
	if !sessionVariablePattern.MatchString(p.SessionVariable) {
		return fmt.Errorf("invalid RLS_SESSION_VARIABLE=%q (expected namespace.name)", p.SessionVariable)
	}
	roles := make([]string, 0, len(p.Roles))
	for _, role := range p.Roles {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	p.Roles = roles
	return nil
}

// Unload closes the log file, if one was opened.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
		c.logFile = nil
	}
}
