package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./astrobot.db" description:"SQLite database file"`

	// Application configuration
	FeedsDir          string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed source configuration files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"4" description:"Number of background workers for sync and translation tasks"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Scheduler interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for the review API (optional)"`
	RunOnce           bool   `long:"once" env:"RUN_ONCE" description:"Sync every enabled source once and exit"`

	// Locking
	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for the sync lock (in-process lock when empty)"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`
	LockTTL       int    `long:"lock-ttl" env:"LOCK_TTL" default:"600" description:"Sync lock TTL in seconds"`

	// Translation service
	TranslateURL            string  `long:"translate-url" env:"TRANSLATE_URL" description:"Translation service endpoint"`
	TranslateToken          string  `long:"translate-token" env:"TRANSLATE_TOKEN" description:"Internal token for the translation service"`
	TranslateFrom           string  `long:"translate-from" env:"TRANSLATE_FROM" default:"en" description:"Source language"`
	TranslateTo             string  `long:"translate-to" env:"TRANSLATE_TO" default:"sk" description:"Target language"`
	TranslateDomain         string  `long:"translate-domain" env:"TRANSLATE_DOMAIN" default:"astronomy" description:"Translation domain hint"`
	TranslateTimeout        int     `long:"translate-timeout" env:"TRANSLATE_TIMEOUT" default:"30" description:"Translation request timeout in seconds"`
	TranslateConnectTimeout int     `long:"translate-connect-timeout" env:"TRANSLATE_CONNECT_TIMEOUT" default:"5" description:"Translation connect timeout in seconds"`
	TranslateRetries        int     `long:"translate-retries" env:"TRANSLATE_RETRIES" default:"2" description:"Retries per translation request"`
	TranslateRate           float64 `long:"translate-rate" env:"TRANSLATE_RATE" default:"2" description:"Maximum translation requests per second"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"AstroBot/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Europe/Bratislava)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return load(nil)
}

func load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validate(&raw); err != nil {
		return nil, err
	}

	cfg := &Cfg{
		DBPath:                  raw.DBPath,
		FeedsDir:                raw.FeedsDir,
		Port:                    raw.Port,
		WorkerCount:             raw.WorkerCount,
		SchedulerInterval:       raw.SchedulerInterval,
		APIAccessKey:            raw.APIAccessKey,
		RunOnce:                 raw.RunOnce,
		RedisAddr:               raw.RedisAddr,
		RedisPassword:           raw.RedisPassword,
		RedisDB:                 raw.RedisDB,
		LockTTL:                 time.Duration(raw.LockTTL) * time.Second,
		TranslateURL:            raw.TranslateURL,
		TranslateToken:          raw.TranslateToken,
		TranslateFrom:           raw.TranslateFrom,
		TranslateTo:             raw.TranslateTo,
		TranslateDomain:         raw.TranslateDomain,
		TranslateTimeout:        time.Duration(raw.TranslateTimeout) * time.Second,
		TranslateConnectTimeout: time.Duration(raw.TranslateConnectTimeout) * time.Second,
		TranslateRetries:        raw.TranslateRetries,
		TranslateRate:           raw.TranslateRate,
		UserAgent:               raw.UserAgent,
		Timezone:                raw.Timezone,
		Debug:                   raw.Debug,
		Version:                 GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func validate(raw *rawCfg) error {
	positive := map[string]int{
		"worker count":       raw.WorkerCount,
		"scheduler interval": raw.SchedulerInterval,
		"lock TTL":           raw.LockTTL,
		"translate timeout":  raw.TranslateTimeout,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if raw.TranslateRetries < 0 {
		return fmt.Errorf("translate retries must be non-negative")
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
