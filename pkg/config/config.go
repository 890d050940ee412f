// Package config builds the process-wide configuration from the environment.
//
// The configuration is read exactly once at start-up and passed to components
// as a value; nothing re-reads the environment at runtime.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/mwzzzh/devreg/pkg/util"
)

// Defaults for keys that are usually left unset.
const (
	DefaultDeviceTable  = "device_pool_devices"
	DefaultIDField      = "device_id"
	DefaultImpersonate  = "chrome131_android"
	DefaultRegisterBase = "https://log-boot.tiktokv.com"
	DefaultDsignBase    = "https://aggr16-normal.tiktokv.us"
)

// DB holds MySQL connectivity and sharding settings.
type DB struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Table    string
	IDField  string
	Shards   int
}

// DSN returns the go-sql-driver DSN. parseTime is needed to scan TIMESTAMP
// columns; utf8mb4 avoids charset surprises with device UA strings.
func (d DB) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// Redis holds the optional Redis mirror / cookie pool settings.
type Redis struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Mirror    bool // mirror provisioned devices into Redis after DB commit
}

// Fill holds the fill-loop controller settings.
type Fill struct {
	Enabled  bool          // MWZZZH_POLL_MODE
	Once     bool          // MWZZZH_POLL_ONCE
	Interval time.Duration // MWZZZH_POLL_INTERVAL_SEC
	Target   int           // DB_MAX_DEVICES, per-shard target
	BatchMax int           // MWZZZH_POLL_BATCH_MAX
	MaxTotal int           // MWZZZH_POLL_MAX_TOTAL, 0 = unlimited
}

// Session holds the keep-alive session pool policy.
type Session struct {
	KeepAlive   bool
	PoolSize    int
	MaxRequests int
	Impersonate string
	Timeout     time.Duration
}

// Backup holds the file backup policy for provisioned devices.
type Backup struct {
	Enabled    bool
	Dir        string
	FilePrefix string
	PerFileMax int
	Shards     int
	Fsync      bool
}

// Pipeline holds the write pipeline policy.
type Pipeline struct {
	BatchSize    int
	QueueSize    int
	RetryBase    time.Duration
	RetryMax     time.Duration
	ResultsFile  string // optional sidecar, never fatal
	SaveResults  bool
}

// Endpoints holds the remote service base URLs. Overridable so tests and
// staging runs can point at stub servers.
type Endpoints struct {
	RegisterBase string
	DsignBase    string
}

// Config is the frozen process configuration.
type Config struct {
	Concurrency    int // max in-flight registration tasks
	ThreadPoolSize int // CPU-offload worker count
	Tasks          int // tasks per batch when not in fill mode

	ProxyFile   string
	ProfileFile string // optional YAML device profile catalog

	DB        DB
	Redis     Redis
	Fill      Fill
	Session   Session
	Backup    Backup
	Pipeline  Pipeline
	Endpoints Endpoints
}

// autoThreadPoolSize derives the CPU-offload pool size from the machine:
// 2x cores, clamped to [4, 64].
func autoThreadPoolSize() int {
	n := runtime.GOMAXPROCS(0) * 2
	if n < 4 {
		n = 4
	}
	if n > 64 {
		n = 64
	}
	return n
}

// Load builds the configuration from the environment. An env file is loaded
// first (ENV_FILE, then .env.linux / .env.windows candidates, best-effort).
func Load() (Config, error) {
	loadEnvFile()

	cfg := Config{
		Concurrency:    getenvInt("GEN_CONCURRENCY", 200),
		ThreadPoolSize: getenvIntFirst([]string{"GEN_THREAD_POOL_SIZE", "THREAD_POOL_SIZE"}, autoThreadPoolSize()),
		Tasks:          getenvIntFirst([]string{"MWZZZH_TASKS", "MAX_GENERATE"}, 1000),
		ProxyFile:      getenv("PROXY_FILE", "proxies.txt"),
		ProfileFile:    getenv("DEVICE_PROFILE_FILE", ""),
	}

	cfg.DB = DB{
		Host:     getenv("DB_HOST", "127.0.0.1"),
		Port:     getenvInt("DB_PORT", 3306),
		User:     getenv("DB_USER", "root"),
		Password: getenv("DB_PASSWORD", ""),
		Name:     getenv("DB_NAME", "device_pool"),
		Table:    getenv("DB_DEVICE_POOL_TABLE", DefaultDeviceTable),
		IDField:  getenv("DEVICE_ID_FIELD", DefaultIDField),
		Shards:   getenvInt("DB_DEVICE_POOL_SHARDS", 1),
	}
	if cfg.DB.Shards <= 0 {
		cfg.DB.Shards = 1
	}

	cfg.Redis = Redis{
		Addr:      getenv("REDIS_ADDR", ""),
		Password:  getenv("REDIS_PASSWORD", ""),
		DB:        getenvInt("REDIS_DB", 0),
		KeyPrefix: getenv("REDIS_KEY_PREFIX", "devreg"),
		Mirror:    getenvBool("REDIS_MIRROR", false),
	}

	cfg.Fill = Fill{
		Enabled:  getenvBool("MWZZZH_POLL_MODE", false),
		Once:     getenvBool("MWZZZH_POLL_ONCE", true),
		Interval: time.Duration(getenvInt("MWZZZH_POLL_INTERVAL_SEC", 10)) * time.Second,
		Target:   getenvInt("DB_MAX_DEVICES", cfg.Tasks),
		BatchMax: getenvInt("MWZZZH_POLL_BATCH_MAX", cfg.Tasks),
		MaxTotal: getenvInt("MWZZZH_POLL_MAX_TOTAL", 0),
	}
	if cfg.Fill.Interval < time.Second {
		cfg.Fill.Interval = time.Second
	}

	cfg.Session = Session{
		KeepAlive:   getenvBool("MWZZZH_KEEPALIVE", true),
		PoolSize:    getenvInt("MWZZZH_SESSION_POOL_SIZE", cfg.Concurrency),
		MaxRequests: getenvInt("MWZZZH_SESSION_MAX_REQUESTS", 200),
		Impersonate: getenv("MWZZZH_IMPERSONATE", DefaultImpersonate),
		Timeout:     time.Duration(getenvInt("MWZZZH_HTTP_TIMEOUT_SEC", 15)) * time.Second,
	}
	if cfg.Session.PoolSize < 1 {
		cfg.Session.PoolSize = 1
	}

	cfg.Backup = Backup{
		Enabled:    getenvBool("SAVE_TO_FILE", false),
		Dir:        getenv("DEVICE_BACKUP_DIR", "device_backups"),
		FilePrefix: getenv("DEVICE_FILE_PREFIX", "devices"),
		PerFileMax: getenvInt("PER_FILE_MAX", 10000),
		Shards:     getenvInt("DEVICE_FILE_SHARDS", cfg.ThreadPoolSize),
		Fsync:      getenvBool("MWZZZH_FILE_FSYNC", false),
	}
	if cfg.Backup.Shards < 1 {
		cfg.Backup.Shards = 1
	}

	cfg.Pipeline = Pipeline{
		BatchSize:   getenvInt("MWZZZH_PIPELINE_BATCH", 20),
		QueueSize:   getenvInt("MWZZZH_PIPELINE_QUEUE", 1000),
		RetryBase:   time.Duration(getenvInt("MWZZZH_PIPELINE_RETRY_SEC", 1)) * time.Second,
		RetryMax:    time.Duration(getenvInt("MWZZZH_PIPELINE_RETRY_MAX_SEC", 30)) * time.Second,
		ResultsFile: getenv("MWZZZH_RESULT_FILE", getenv("RESULT_FILE", "")),
		SaveResults: getenvBool("MWZZZH_SAVE_RESULTS_FILE", true),
	}
	if cfg.Pipeline.BatchSize < 1 {
		cfg.Pipeline.BatchSize = 1
	}
	if cfg.Pipeline.RetryBase <= 0 {
		cfg.Pipeline.RetryBase = time.Second
	}
	if cfg.Pipeline.RetryMax <= 0 {
		cfg.Pipeline.RetryMax = 30 * time.Second
	}

	cfg.Endpoints = Endpoints{
		RegisterBase: getenv("MWZZZH_REGISTER_BASE", DefaultRegisterBase),
		DsignBase:    getenv("MWZZZH_DSIGN_BASE", DefaultDsignBase),
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Concurrency < 1 {
		return util.NewConfigError("GEN_CONCURRENCY", "must be >= 1")
	}
	if c.Fill.Enabled && c.Fill.Target <= 0 {
		return util.NewConfigError("DB_MAX_DEVICES", "must be > 0 in fill mode (per-shard target)")
	}
	if c.Fill.Enabled && c.Fill.BatchMax < 1 {
		return util.NewConfigError("MWZZZH_POLL_BATCH_MAX", "must be >= 1")
	}
	return nil
}
