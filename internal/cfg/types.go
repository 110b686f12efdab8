package cfg

import "time"

type Cfg struct {
	// Database configuration
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string

	// Scheduler and workers
	WorkerCount  int
	PollInterval time.Duration
	QueueSize    int

	// Fetch pipeline
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	FetchTimeout time.Duration
	HostRate     float64
	HostBurst    int
	UserAgent    string

	// Dialects and ops server
	DialectsDir  string
	Port         string
	APIAccessKey string

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}

// PostgresDSN builds a lib/pq connection string from the discrete settings.
func (c *Cfg) PostgresDSN() string {
	return "host=" + c.DBHost +
		" port=" + c.DBPort +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" sslmode=" + c.DBSSLMode
}

// DatabaseDSN returns the data source for the configured driver.
func (c *Cfg) DatabaseDSN() string {
	if c.DBDriver == DriverSQLite {
		return c.SQLitePath
	}
	return c.PostgresDSN()
}
