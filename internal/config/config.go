package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string

	DBHost string
	DBPort string
	DBName string
	DBUser string
	DBPass string
	// DBSSLMode is passed through to lib/pq (default "disable").
	DBSSLMode string

	// DBMaxOpenConns is the maximum number of open connections to the database (default 25).
	DBMaxOpenConns int
	// DBMaxIdleConns is the maximum number of idle connections (default 5).
	DBMaxIdleConns int

	// JWTSecret verifies bearer tokens; the workspace_id claim scopes every schedule request.
	JWTSecret string

	// Env is "dev" (default) or "prod". When "prod", JWT_SECRET must be set and not the default.
	Env string

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	// LogFormat is "text" (default) or "json". LogLevel is a zap level name (default "info").
	LogFormat string
	LogLevel  string

	// CORSAllowedOrigins is set via CORS_ALLOWED_ORIGINS (comma-separated). Empty means same-origin only.
	CORSAllowedOrigins []string

	// WorkspaceRPS and WorkspaceBurst bound API requests per workspace.
	WorkspaceRPS   float64
	WorkspaceBurst int

	Scheduler SchedulerConfig

	// NATSURL enables run outcome events when set.
	NATSURL string
	// RedisAddr enables the scheduler heartbeat when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AWSRegion enables the AWS adapters when set.
	AWSRegion string
	// AzureEnabled registers the Azure adapters using the default credential chain.
	AzureEnabled bool
	// ProviderRPS bounds outbound control-plane calls per provider; ProviderBurst is the bucket size.
	ProviderRPS   float64
	ProviderBurst int
}

// SchedulerConfig tunes the execution loop.
type SchedulerConfig struct {
	// Enabled runs the loop inside the API process (default true).
	Enabled bool
	// TickInterval must stay below the one-minute schedule granularity (default 1m).
	TickInterval time.Duration
	// LeaseDuration is how long a claim blocks other replicas; it must exceed ExecTimeout
	// plus the time allowed for recording.
	LeaseDuration time.Duration
	// ExecTimeout bounds each provider call; a timeout is recorded as a failure.
	ExecTimeout time.Duration
	// Workers bounds concurrent provider calls within one tick.
	Workers int
	// BatchSize caps the schedules claimed per tick.
	BatchSize int
	// InstanceID labels run history and heartbeat entries; defaults to the hostname.
	InstanceID string
}

const defaultJWTSecret = "supersecretkey"

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_name", "scheduler")
	v.SetDefault("db_user", "scheduler")
	v.SetDefault("db_pass", "scheduler")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("db_max_open_conns", 25)
	v.SetDefault("db_max_idle_conns", 5)
	v.SetDefault("jwt_secret", defaultJWTSecret)
	v.SetDefault("env", "dev")
	v.SetDefault("tls_cert_file", "")
	v.SetDefault("tls_key_file", "")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_allowed_origins", "")
	v.SetDefault("workspace_rps", 5.0)
	v.SetDefault("workspace_burst", 20)

	v.SetDefault("scheduler_enabled", true)
	v.SetDefault("scheduler_tick_interval", time.Minute)
	v.SetDefault("scheduler_lease_duration", 5*time.Minute)
	v.SetDefault("scheduler_exec_timeout", 90*time.Second)
	v.SetDefault("scheduler_workers", 8)
	v.SetDefault("scheduler_batch_size", 100)
	v.SetDefault("scheduler_instance_id", "")

	v.SetDefault("nats_url", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("aws_region", "")
	v.SetDefault("azure_enabled", false)
	v.SetDefault("provider_rps", 2.0)
	v.SetDefault("provider_burst", 5)
}

// Load reads configuration from the environment (keys upper-cased, e.g. DB_HOST) and,
// when CONFIG_FILE is set, from that YAML file. Environment values win over the file.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	instanceID := v.GetString("scheduler_instance_id")
	if instanceID == "" {
		instanceID, _ = os.Hostname()
	}

	cfg := Config{
		Port: v.GetString("port"),

		DBHost:    v.GetString("db_host"),
		DBPort:    v.GetString("db_port"),
		DBName:    v.GetString("db_name"),
		DBUser:    v.GetString("db_user"),
		DBPass:    v.GetString("db_pass"),
		DBSSLMode: v.GetString("db_sslmode"),

		DBMaxOpenConns: positiveInt(v.GetInt("db_max_open_conns"), 25),
		DBMaxIdleConns: positiveInt(v.GetInt("db_max_idle_conns"), 5),

		JWTSecret: v.GetString("jwt_secret"),
		Env:       v.GetString("env"),

		TLSCertFile: v.GetString("tls_cert_file"),
		TLSKeyFile:  v.GetString("tls_key_file"),

		LogFormat: v.GetString("log_format"),
		LogLevel:  v.GetString("log_level"),

		CORSAllowedOrigins: parseCORSOrigins(v.GetString("cors_allowed_origins")),

		WorkspaceRPS:   v.GetFloat64("workspace_rps"),
		WorkspaceBurst: positiveInt(v.GetInt("workspace_burst"), 20),

		Scheduler: SchedulerConfig{
			Enabled:       v.GetBool("scheduler_enabled"),
			TickInterval:  v.GetDuration("scheduler_tick_interval"),
			LeaseDuration: v.GetDuration("scheduler_lease_duration"),
			ExecTimeout:   v.GetDuration("scheduler_exec_timeout"),
			Workers:       positiveInt(v.GetInt("scheduler_workers"), 8),
			BatchSize:     positiveInt(v.GetInt("scheduler_batch_size"), 100),
			InstanceID:    instanceID,
		},

		NATSURL:       v.GetString("nats_url"),
		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),

		AWSRegion:     v.GetString("aws_region"),
		AzureEnabled:  v.GetBool("azure_enabled"),
		ProviderRPS:   v.GetFloat64("provider_rps"),
		ProviderBurst: positiveInt(v.GetInt("provider_burst"), 5),
	}
	return cfg, cfg.Validate()
}

// recordTimeout mirrors the scheduler's bound on writing an outcome after execution.
const recordTimeout = 10 * time.Second

// Validate rejects configurations the scheduler cannot run safely with.
func (c Config) Validate() error {
	var errs []error
	if c.Env == "prod" && (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) {
		errs = append(errs, errors.New("JWT_SECRET must be set in prod"))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}
	s := c.Scheduler
	if s.TickInterval <= 0 || s.TickInterval > time.Minute {
		errs = append(errs, fmt.Errorf("SCHEDULER_TICK_INTERVAL must be in (0, 1m], got %s", s.TickInterval))
	}
	if s.ExecTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SCHEDULER_EXEC_TIMEOUT must be positive, got %s", s.ExecTimeout))
	}
	if s.LeaseDuration <= s.ExecTimeout+recordTimeout {
		errs = append(errs, fmt.Errorf("SCHEDULER_LEASE_DURATION (%s) must exceed SCHEDULER_EXEC_TIMEOUT (%s) plus %s for recording",
			s.LeaseDuration, s.ExecTimeout, recordTimeout))
	}
	if c.ProviderRPS <= 0 {
		errs = append(errs, fmt.Errorf("PROVIDER_RPS must be positive, got %v", c.ProviderRPS))
	}
	return errors.Join(errs...)
}

// DatabaseURL is the postgres URL form of the DB settings, as golang-migrate expects it.
func (c Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPass),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// parseCORSOrigins splits a comma-separated list of origins and trims spaces. Empty strings are omitted.
func parseCORSOrigins(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if o := strings.TrimSpace(p); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func positiveInt(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}
