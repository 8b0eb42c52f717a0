package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"aldar.app/internal/apperr"
)

const envPrefix = "ALDAR_"

// Config holds every setting the binaries need. It is built once in main and
// passed down explicitly.
type Config struct {
	Env     string `yaml:"env"`
	Company string `yaml:"company"`
	Debug   bool   `yaml:"debug"`

	// DefaultGroup is the customer group every logged in user belongs to; 0 keeps the built-in one.
	DefaultGroup int64 `yaml:"default_group"`

	HTTP      HTTP      `yaml:"http"`
	DB        DB        `yaml:"db"`
	Redis     Redis     `yaml:"redis"`
	Codec     Codec     `yaml:"codec"`
	JWT       JWT       `yaml:"jwt"`
	LMS       LMS       `yaml:"lms"`
	Batch     Batch     `yaml:"batch"`
	Callbacks Callbacks `yaml:"callbacks"`
}

type HTTP struct {
	Addr         string   `yaml:"addr"`
	GRPCAddr     string   `yaml:"grpc_addr"`
	RateBurst    int      `yaml:"rate_burst"`
	RatePerSec   int      `yaml:"rate_per_sec"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	Origins      []string `yaml:"cors_origins"`
	// LogDir is only recorded on request loggers; output stays on stdout.
	LogDir string `yaml:"log_dir"`
}

type DB struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Codec carries the shared AES secret used by the mobile clients.
type Codec struct {
	Key  string `yaml:"key"`
	Salt string `yaml:"salt"`
	Mode int    `yaml:"mode"`
}

type JWT struct {
	Secret string `yaml:"secret"`
}

// LMS describes the loyalty management system endpoints and credentials.
type LMS struct {
	TokenURL        string        `yaml:"token_url"`
	ClientID        string        `yaml:"client_id"`
	ClientSecret    string        `yaml:"client_secret"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	EnrollmentURL   string        `yaml:"enrollment_url"`
	UserUpdateURL   string        `yaml:"user_update_url"`
	ProfileURL      string        `yaml:"profile_url"` // contains one %s for the member id
	EarnURL         string        `yaml:"earn_url"`
	BurnURL         string        `yaml:"burn_url"`
	RefundURL       string        `yaml:"refund_url"`
	TransactionsURL string        `yaml:"transactions_url"`
	PointsURL       string        `yaml:"points_url"`
	ConfigsURL      string        `yaml:"configs_url"`
	Timeout         time.Duration `yaml:"timeout"`
	LockPoll        time.Duration `yaml:"lock_poll"`
	LockMaxWait     time.Duration `yaml:"lock_max_wait"`
}

// Batch configures the SFTP CSV synchronizer.
type Batch struct {
	SFTPAddr        string                 `yaml:"sftp_addr"`
	SFTPUser        string                 `yaml:"sftp_user"`
	SFTPPassword    string                 `yaml:"sftp_password"`
	SFTPKeyFile     string                 `yaml:"sftp_key_file"`
	SFTPTimeout     time.Duration          `yaml:"sftp_timeout"`
	KnownHostsFile  string                 `yaml:"known_hosts_file"`
	KeysDir         string                 `yaml:"keys_dir"`
	Passphrase      string                 `yaml:"passphrase"`
	ChunkSize       int                    `yaml:"chunk_size"`
	Delay           time.Duration          `yaml:"delay"`
	RetryAttempts   int                    `yaml:"retry_attempts"`
	RetryDelay      time.Duration          `yaml:"retry_delay"`
	MaxRecords      int                    `yaml:"max_records"`
	RunLockTTL      time.Duration          `yaml:"run_lock_ttl"`
	SuccessTemplate int                    `yaml:"success_template"`
	FailureTemplate int                    `yaml:"failure_template"`
	Users           map[string]Credentials `yaml:"users"`
}

// Credentials is a username/password pair.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Callbacks holds basic auth users for third-party callbacks. Passwords are bcrypt hashes.
type Callbacks struct {
	BasicAuthEnabled bool              `yaml:"basic_auth_enabled"`
	Users            map[string]string `yaml:"users"`
}

// Default returns a config populated with production defaults.
func Default() Config {
	return Config{
		Env:     "dev",
		Company: "ADR",
		HTTP: HTTP{
			Addr:         ":8080",
			GRPCAddr:     ":9090",
			RateBurst:    20,
			RatePerSec:   10,
			MaxBodyBytes: 1 << 20,
		},
		DB: DB{MaxOpenConns: 20, MaxIdleConns: 10},
		Codec: Codec{
			Mode: 2,
		},
		LMS: LMS{
			Timeout:     30 * time.Second,
			LockPoll:    3 * time.Second,
			LockMaxWait: 2 * time.Minute,
		},
		Batch: Batch{
			SFTPTimeout:     30 * time.Second,
			ChunkSize:       1,
			Delay:           500 * time.Millisecond,
			RetryAttempts:   5,
			RetryDelay:      15 * time.Second,
			MaxRecords:      5000,
			RunLockTTL:      2 * time.Hour,
			SuccessTemplate: 984,
			FailureTemplate: 983,
		},
	}
}

// Load builds the config from defaults, the optional YAML file named by
// ALDAR_CONFIG_FILE, then environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(envPrefix + "CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := Parse(raw, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg, os.LookupEnv)
	return cfg, nil
}

// Parse overlays YAML content on top of cfg.
func Parse(raw []byte, cfg *Config) error {
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(envPrefix + name); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + name); ok {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				*dst = d
			}
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(envPrefix + name); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	str("ENV", &cfg.Env)
	str("COMPANY", &cfg.Company)
	boolean("DEBUG", &cfg.Debug)
	if v, ok := lookup(envPrefix + "DEFAULT_GROUP"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.DefaultGroup = n
		}
	}

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("GRPC_ADDR", &cfg.HTTP.GRPCAddr)
	num("RATE_BURST", &cfg.HTTP.RateBurst)
	num("RATE_PER_SEC", &cfg.HTTP.RatePerSec)
	str("LOG_DIR", &cfg.HTTP.LogDir)
	if v, ok := lookup(envPrefix + "CORS_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		cfg.HTTP.Origins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.HTTP.Origins = append(cfg.HTTP.Origins, o)
			}
		}
	}

	str("PG_DSN", &cfg.DB.DSN)
	num("PG_MAX_OPEN", &cfg.DB.MaxOpenConns)

	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	num("REDIS_DB", &cfg.Redis.DB)

	str("ENCRYPTION_KEY", &cfg.Codec.Key)
	str("ENCRYPTION_SALT", &cfg.Codec.Salt)
	num("ENCRYPTION_MODE", &cfg.Codec.Mode)

	str("JWT_SECRET_KEY", &cfg.JWT.Secret)

	str("LMS_AUTH_URL", &cfg.LMS.TokenURL)
	str("LMS_CLIENT_ID", &cfg.LMS.ClientID)
	str("LMS_CLIENT_SECRET", &cfg.LMS.ClientSecret)
	str("LMS_USERNAME", &cfg.LMS.Username)
	str("LMS_PASSWORD", &cfg.LMS.Password)
	str("LMS_ENROLLMENT_API", &cfg.LMS.EnrollmentURL)
	str("LMS_USER_UPDATE_API", &cfg.LMS.UserUpdateURL)
	str("LMS_GET_USER_PROFILE", &cfg.LMS.ProfileURL)
	str("LMS_EARN_POINTS_URL", &cfg.LMS.EarnURL)
	str("LMS_BURN_POINTS_URL", &cfg.LMS.BurnURL)
	str("LMS_REFUND_URL", &cfg.LMS.RefundURL)
	str("LMS_GET_USER_TRANSACTIONS", &cfg.LMS.TransactionsURL)
	str("LMS_GET_POINTS_URL", &cfg.LMS.PointsURL)
	str("LMS_GET_CONFIGS_API", &cfg.LMS.ConfigsURL)
	dur("LMS_TIMEOUT", &cfg.LMS.Timeout)
	dur("LMS_LOCK_POLL", &cfg.LMS.LockPoll)
	dur("LMS_LOCK_MAX_WAIT", &cfg.LMS.LockMaxWait)

	str("SFTP_ADDR", &cfg.Batch.SFTPAddr)
	str("SFTP_USER", &cfg.Batch.SFTPUser)
	str("SFTP_PASSWORD", &cfg.Batch.SFTPPassword)
	str("SFTP_KEY_FILE", &cfg.Batch.SFTPKeyFile)
	dur("SFTP_TIMEOUT", &cfg.Batch.SFTPTimeout)
	str("SFTP_KNOWN_HOSTS", &cfg.Batch.KnownHostsFile)
	str("GPG_KEYS_DIR", &cfg.Batch.KeysDir)
	str("GPG_PASSPHRASE", &cfg.Batch.Passphrase)
	num("BATCH_CHUNK_SIZE", &cfg.Batch.ChunkSize)
	dur("BATCH_DELAY", &cfg.Batch.Delay)

	boolean("BASIC_AUTH_ENABLED", &cfg.Callbacks.BasicAuthEnabled)
}

// Validate reports settings the API server cannot run without.
func (c Config) Validate() error {
	var missing []string
	if c.Codec.Key == "" {
		missing = append(missing, "codec.key")
	}
	if c.Codec.Salt == "" {
		missing = append(missing, "codec.salt")
	}
	if c.JWT.Secret == "" {
		missing = append(missing, "jwt.secret")
	}
	if len(missing) > 0 {
		return apperr.Config("missing configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

// ValidateBatch reports settings the synchronizer cannot run without.
func (c Config) ValidateBatch() error {
	var errs []error
	if c.Batch.SFTPAddr == "" {
		errs = append(errs, apperr.Config("missing configuration: batch.sftp_addr"))
	}
	if c.Batch.SFTPUser == "" {
		errs = append(errs, apperr.Config("missing configuration: batch.sftp_user"))
	}
	if c.Batch.SFTPPassword == "" && c.Batch.SFTPKeyFile == "" {
		errs = append(errs, apperr.Config("missing configuration: batch.sftp_password or batch.sftp_key_file"))
	}
	// host keys are always verified
	if c.Batch.KnownHostsFile == "" {
		errs = append(errs, apperr.Config("missing configuration: batch.known_hosts_file"))
	}
	if c.Batch.KeysDir == "" {
		errs = append(errs, apperr.Config("missing configuration: batch.keys_dir"))
	}
	if c.Batch.ChunkSize <= 0 {
		errs = append(errs, apperr.Config("batch.chunk_size must be positive"))
	}
	return errors.Join(errs...)
}
