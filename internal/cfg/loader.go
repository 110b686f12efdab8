package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type rawCfg struct {
	// Database configuration
	DBDriver   string `long:"db-driver" env:"DB_DRIVER" default:"postgres" choice:"postgres" choice:"sqlite" description:"Storage backend"`
	DBHost     string `long:"db-host" env:"DB_HOST" default:"localhost" description:"Database host"`
	DBPort     string `long:"db-port" env:"DB_PORT" default:"5432" description:"Database port"`
	DBUser     string `long:"db-user" env:"DB_USER" default:"feed_reader" description:"Database user"`
	DBPassword string `long:"db-password" env:"DB_PASSWORD" description:"Database password (required for postgres)"`
	DBName     string `long:"db-name" env:"DB_NAME" default:"feed_reader" description:"Database name"`
	DBSSLMode  string `long:"db-sslmode" env:"DB_SSLMODE" default:"disable" description:"PostgreSQL sslmode"`
	SQLitePath string `long:"sqlite-path" env:"SQLITE_PATH" default:"./feed_reader.db" description:"SQLite database file"`

	// Scheduler and workers
	WorkerCount  int           `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of concurrent fetch workers"`
	PollInterval time.Duration `long:"poll-interval" env:"POLL_INTERVAL" default:"200ms" description:"Pause between due-feed scans"`
	QueueSize    int           `long:"queue-size" env:"QUEUE_SIZE" default:"4096" description:"Capacity of the work queue"`

	// Fetch pipeline
	MaxAttempts  int           `long:"max-attempts" env:"MAX_ATTEMPTS" default:"5" description:"Fetch attempts before a feed is terminated"`
	BackoffBase  time.Duration `long:"backoff-base" env:"BACKOFF_BASE" default:"100ms" description:"Delay before the second attempt, doubled for each further attempt"`
	BackoffCap   time.Duration `long:"backoff-cap" env:"BACKOFF_CAP" default:"1s" description:"Upper bound for the delay between attempts"`
	FetchTimeout time.Duration `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"15s" description:"Timeout of a single fetch attempt"`
	HostRate     float64       `long:"host-rate" env:"HOST_RATE" default:"5" description:"Requests per second allowed per publisher host"`
	HostBurst    int           `long:"host-burst" env:"HOST_BURST" default:"5" description:"Burst of requests allowed per publisher host"`
	UserAgent    string        `long:"user-agent" env:"USER_AGENT" default:"Feed Fetcher/1.0" description:"User agent string for HTTP requests"`

	// Dialects and ops server
	DialectsDir  string `long:"dialects-dir" env:"DIALECTS_DIR" description:"Directory with additional publisher dialect files"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"Ops HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for admin endpoints (optional)"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Europe/Amsterdam)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

func Load() (*Cfg, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs parses the given arguments together with the environment.
// It returns a nil config and nil error when help was requested.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBDriver:     raw.DBDriver,
		DBHost:       raw.DBHost,
		DBPort:       raw.DBPort,
		DBUser:       raw.DBUser,
		DBPassword:   raw.DBPassword,
		DBName:       raw.DBName,
		DBSSLMode:    raw.DBSSLMode,
		SQLitePath:   raw.SQLitePath,
		WorkerCount:  raw.WorkerCount,
		PollInterval: raw.PollInterval,
		QueueSize:    raw.QueueSize,
		MaxAttempts:  raw.MaxAttempts,
		BackoffBase:  raw.BackoffBase,
		BackoffCap:   raw.BackoffCap,
		FetchTimeout: raw.FetchTimeout,
		HostRate:     raw.HostRate,
		HostBurst:    raw.HostBurst,
		UserAgent:    raw.UserAgent,
		DialectsDir:  raw.DialectsDir,
		Port:         raw.Port,
		APIAccessKey: raw.APIAccessKey,
		Timezone:     raw.Timezone,
		Debug:        raw.Debug,
		Version:      GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func (c *Cfg) validate() error {
	switch {
	case c.WorkerCount <= 0:
		return fmt.Errorf("worker count must be positive, got %d", c.WorkerCount)
	case c.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	case c.QueueSize <= 0:
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	case c.BackoffBase < 0 || c.BackoffCap < 0:
		return fmt.Errorf("backoff durations must not be negative")
	case c.FetchTimeout <= 0:
		return fmt.Errorf("fetch timeout must be positive, got %s", c.FetchTimeout)
	case c.HostRate <= 0 || c.HostBurst <= 0:
		return fmt.Errorf("host rate and burst must be positive")
	case c.DBDriver == DriverPostgres && c.DBPassword == "":
		return fmt.Errorf("database password is required for the postgres driver")
	}
	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
