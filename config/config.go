package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/samandartukhtayev/authentik-sync/models"
)

const (
	DefaultPageSize    = 500
	DefaultTimeout     = 10 * time.Second
	DefaultAuthService = "gitlab"
	DefaultTable       = "users"
	DefaultSSLMode     = "disable"
	DefaultEnvFile     = ".env"
)

// AuthentikConfig holds the identity provider endpoint and credential
type AuthentikConfig struct {
	BaseURL  string
	Token    string
	PageSize int
	Timeout  time.Duration
}

// DatabaseConfig represents a single database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Table    string
}

// DumpConfig controls the optional pg_dump snapshot taken before the write
type DumpConfig struct {
	Enabled      bool
	Dir          string
	AllowFailure bool
}

// Config holds the complete run configuration. It is loaded once at startup
// and passed by value afterwards.
type Config struct {
	Authentik   AuthentikConfig
	Database    DatabaseConfig
	Dump        DumpConfig
	AuthService string
	Confirm     bool
}

// ConnectionString returns a PostgreSQL connection string
func (dc *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSN(dc.Host), dc.Port, quoteDSN(dc.User), quoteDSN(dc.Password),
		quoteDSN(dc.DBName), quoteDSN(dc.SSLMode),
	)
}

// quoteDSN quotes a keyword/value DSN value so passwords with spaces or quotes survive
func quoteDSN(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Load reads the configuration from the process environment. Values found in
// envFile are added first without overriding variables already set; a missing
// default .env file is not an error, a missing explicit one is.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		if err := godotenv.Load(DefaultEnvFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to read %s", DefaultEnvFile)
		}
	} else if err := godotenv.Load(envFile); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", envFile)
	}

	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (*Config, error) {
	r := envReader{getenv: getenv}

	cfg := &Config{
		Authentik: AuthentikConfig{
			BaseURL:  strings.TrimRight(r.required("AK_URL"), "/"),
			Token:    r.required("AK_TOKEN"),
			PageSize: r.optionalInt("AK_PAGE_SIZE", DefaultPageSize),
			Timeout:  r.duration("AK_TIMEOUT", DefaultTimeout),
		},
		Database: DatabaseConfig{
			Host:     r.required("DB_HOST"),
			Port:     r.requiredInt("DB_PORT"),
			User:     r.required("DB_USER"),
			Password: getenv("DB_PASSWORD"),
			DBName:   r.required("DB_NAME"),
			SSLMode:  r.optional("DB_SSLMODE", DefaultSSLMode),
			Table:    r.optional("DB_TABLE", DefaultTable),
		},
		Dump: DumpConfig{
			Enabled:      r.flag("CREATE_DUMP_BEFORE"),
			Dir:          r.lookup("DUMP_PATH"),
			AllowFailure: r.flag("ALLOW_DUMP_FAILURE"),
		},
		AuthService: r.optional("AUTH_SERVICE", DefaultAuthService),
		Confirm:     r.flag("CONFIRM_BEFORE"),
	}

	if cfg.Dump.Enabled && cfg.Dump.Dir == "" {
		r.missing = append(r.missing, "DUMP_PATH")
	}
	if cfg.Authentik.PageSize <= 0 {
		r.invalid = append(r.invalid, "AK_PAGE_SIZE must be positive")
	}
	if cfg.Authentik.Timeout <= 0 {
		r.invalid = append(r.invalid, "AK_TIMEOUT must be positive")
	}

	if len(r.missing) > 0 {
		return nil, errors.Wrapf(models.ErrConfigMissing, "required variables not set: %s", strings.Join(r.missing, ", "))
	}
	if len(r.invalid) > 0 {
		return nil, errors.Wrapf(models.ErrConfigMissing, "invalid values: %s", strings.Join(r.invalid, "; "))
	}

	return cfg, nil
}

// envReader collects every missing or malformed variable so they are reported together
type envReader struct {
	getenv  func(string) string
	missing []string
	invalid []string
}

func (r *envReader) lookup(key string) string {
	return strings.TrimSpace(r.getenv(key))
}

func (r *envReader) required(key string) string {
	v := r.lookup(key)
	if v == "" {
		r.missing = append(r.missing, key)
	}
	return v
}

func (r *envReader) requiredInt(key string) int {
	v := r.required(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.invalid = append(r.invalid, fmt.Sprintf("%s=%q is not an integer", key, v))
	}
	return n
}

func (r *envReader) optional(key, def string) string {
	if v := r.lookup(key); v != "" {
		return v
	}
	return def
}

func (r *envReader) optionalInt(key string, def int) int {
	v := r.lookup(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.invalid = append(r.invalid, fmt.Sprintf("%s=%q is not an integer", key, v))
		return def
	}
	return n
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := r.lookup(key)
	if v == "" {
		return def
	}
	// bare numbers are seconds
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.invalid = append(r.invalid, fmt.Sprintf("%s=%q is not a duration", key, v))
		return def
	}
	return d
}

func (r *envReader) flag(key string) bool {
	v := r.lookup(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.invalid = append(r.invalid, fmt.Sprintf("%s=%q is not a boolean", key, v))
		return false
	}
	return b
}
