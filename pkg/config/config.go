// Package config reads service and client settings from command line flags,
// environment variables and .env files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"libcatalog/pkg/database"
)

const (
	ServicePrefix = "catalog"
	ClientPrefix  = "librarian"
)

// Config holds the settings of the catalog service.
type Config struct {
	Endpoint string
	LogLevel string

	DB database.Options

	// PollInterval is how often the store checks for writes made by other
	// processes. Zero disables polling.
	PollInterval  time.Duration
	TxMaxAttempts int
	Seed          bool
	ConfirmTTL    time.Duration
	// SessionIdle is how long a user's view state is kept without use.
	SessionIdle time.Duration
}

// RegisterFlags defines the service flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("endpoint", ":8090", "address the HTTP API listens on")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")

	fs.String("db-driver", database.DriverPostgres, "database driver (postgres, sqlite, memory)")
	fs.String("db-host", "postgres", "postgres host")
	fs.String("db-port", "5432", "postgres port")
	fs.String("db-user", "program", "postgres user")
	fs.String("db-password", "test", "postgres password")
	fs.String("db-name", "library", "postgres database name")
	fs.String("sqlite-path", "catalog.db", "sqlite database file")
	fs.Int("db-connect-retries", 10, "attempts to reach the database on start")
	fs.Duration("db-retry-delay", 5*time.Second, "pause between database connect attempts")

	fs.Duration("poll-interval", 2*time.Second, "interval for detecting writes by other processes (0 disables)")
	fs.Int("tx-max-attempts", 5, "attempts of an optimistic transaction before giving up")
	fs.Bool("seed", true, "add sample books when the catalog is empty")
	fs.Duration("confirm-ttl", time.Minute, "how long a delete confirmation stays valid")
	fs.Duration("session-idle", 30*time.Minute, "drop a user's view state after this long without use")
}

// newViper loads .env files and binds fs and PREFIX_* environment variables.
func newViper(prefix string, fs *pflag.FlagSet) (*viper.Viper, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}
	return v, nil
}

// Load reads the service configuration. Flags set on the command line win
// over environment variables, which win over flag defaults.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v, err := newViper(ServicePrefix, fs)
	if err != nil {
		return nil, err
	}

	c := &Config{
		Endpoint: v.GetString("endpoint"),
		LogLevel: v.GetString("log-level"),
		DB: database.Options{
			Driver:     v.GetString("db-driver"),
			Host:       v.GetString("db-host"),
			Port:       v.GetString("db-port"),
			User:       v.GetString("db-user"),
			Password:   v.GetString("db-password"),
			Name:       v.GetString("db-name"),
			SQLitePath: v.GetString("sqlite-path"),
			MaxRetries: v.GetInt("db-connect-retries"),
			RetryDelay: v.GetDuration("db-retry-delay"),
		},
		PollInterval:  v.GetDuration("poll-interval"),
		TxMaxAttempts: v.GetInt("tx-max-attempts"),
		Seed:          v.GetBool("seed"),
		ConfirmTTL:    v.GetDuration("confirm-ttl"),
		SessionIdle:   v.GetDuration("session-idle"),
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case database.DriverPostgres, database.DriverSQLite, database.DriverMemory:
	default:
		return errors.Errorf("invalid db-driver %q (expected postgres, sqlite or memory)", c.DB.Driver)
	}
	if c.TxMaxAttempts < 1 {
		return errors.Errorf("tx-max-attempts must be at least 1, got %d", c.TxMaxAttempts)
	}
	if c.PollInterval < 0 {
		return errors.Errorf("poll-interval must not be negative")
	}
	if c.ConfirmTTL <= 0 {
		return errors.Errorf("confirm-ttl must be positive")
	}
	if c.SessionIdle <= 0 {
		return errors.Errorf("session-idle must be positive")
	}
	return nil
}

// String returns a formatted summary with the password masked.
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("HTTP API")
	addField("Endpoint", c.Endpoint)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Database")
	addField("Driver", c.DB.Driver)
	switch c.DB.Driver {
	case database.DriverMemory:
	case database.DriverSQLite:
		addField("File", c.DB.SQLitePath)
	default:
		addField("Host", fmt.Sprintf("%s:%s", c.DB.Host, c.DB.Port))
		addField("Database", c.DB.Name)
		addField("User", c.DB.User)
		addField("Password", "********")
		addField("Connect Retries", fmt.Sprintf("%d (every %s)", c.DB.MaxRetries, c.DB.RetryDelay))
	}

	addSection("Catalog")
	if c.PollInterval > 0 {
		addField("Poll Interval", c.PollInterval.String())
	} else {
		addField("Poll Interval", "disabled")
	}
	addField("Tx Max Attempts", fmt.Sprintf("%d", c.TxMaxAttempts))
	addField("Seed Samples", fmt.Sprintf("%t", c.Seed))
	addField("Confirm TTL", c.ConfirmTTL.String())
	addField("Session Idle", c.SessionIdle.String())

	return sb.String()
}

// ClientConfig holds the settings of the librarian CLI.
type ClientConfig struct {
	Server  string
	User    string
	Timeout time.Duration
}

func RegisterClientFlags(fs *pflag.FlagSet) {
	fs.String("server", "http://localhost:8090", "catalog service base URL")
	fs.String("user", "", "user id sent as X-User-Name (default: a fresh anonymous id)")
	fs.Duration("timeout", 10*time.Second, "HTTP request timeout")
}

func LoadClient(fs *pflag.FlagSet) (*ClientConfig, error) {
	v, err := newViper(ClientPrefix, fs)
	if err != nil {
		return nil, err
	}
	c := &ClientConfig{
		Server:  strings.TrimRight(v.GetString("server"), "/"),
		User:    v.GetString("user"),
		Timeout: v.GetDuration("timeout"),
	}
	if c.User == "" {
		c.User = "anon-" + uuid.New().String()
	}
	if c.Server == "" {
		return nil, errors.New("server must not be empty")
	}
	return c, nil
}
