package cfg

import "time"

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	FeedsDir          string
	Port              string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string
	RunOnce           bool

	// Locking
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	// Translation service
	TranslateURL            string
	TranslateToken          string
	TranslateFrom           string
	TranslateTo             string
	TranslateDomain         string
	TranslateTimeout        time.Duration
	TranslateConnectTimeout time.Duration
	TranslateRetries        int
	TranslateRate           float64

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
