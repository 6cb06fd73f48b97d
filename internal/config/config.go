package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage providers for submission artifacts.
const (
	StorageOSS        = "oss"
	StorageCloudinary = "cloudinary"
	StorageNone       = "none"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string

	StorageProvider     string
	OSSEndpoint         string
	OSSAccessKey        string
	OSSSecretKey        string
	OSSSecurityToken    string
	OSSBucket           string
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
	CloudinaryAssetType string
	UploadDir           string
	UploadURLPrefix     string
	FetchTimeout        time.Duration
	FetchMaxBytes       int64
	ExtractTimeout      time.Duration

	AIProviderTimeout time.Duration
	MLTrainTimeout    time.Duration
	GeminiAPIKey      string
	GeminiBaseURL     string
	GeminiModel       string
	MLAPIURL          string
	AIBothOrder       string
	AILowConfidence   float64
	SettingsCacheTTL  time.Duration

	GradingLease        time.Duration
	GradingMaxAttempts  int
	GradingConcurrency  int
	GradingErrorMarkers [][]string
	GradingLetterScale  string
	GradingDefaultPass  float64
	GradingEventSubject string

	SweepCron  string
	ClearCron  string
	SweepLimit int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grading API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("storage.provider", StorageNone)
	v.SetDefault("cloudinary.folder", "gema/submissions")
	v.SetDefault("cloudinary.asset_type", "raw")
	v.SetDefault("upload.dir", "./uploads")
	v.SetDefault("upload.url_prefix", "/uploads/")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_bytes", 25*1024*1024)
	v.SetDefault("extract.timeout", "20s")
	v.SetDefault("ai.provider_timeout", "60s")
	v.SetDefault("ml.train_timeout", "5m")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("ai.both_order", "ML,GEMINI")
	v.SetDefault("ai.low_confidence", 0.5)
	v.SetDefault("settings.cache_ttl", "1m")
	v.SetDefault("grading.lease", "10m")
	v.SetDefault("grading.max_attempts", 3)
	v.SetDefault("grading.concurrency", 4)
	v.SetDefault("grading.letter_scale", "A:80,B+:75,B:70,C+:65,C:60,D+:55,D:50,F:0")
	v.SetDefault("grading.default_pass", 60)
	v.SetDefault("grading.event_subject", "gema.grading")
	v.SetDefault("sweep.limit", 50)

	durations := map[string]time.Duration{}
	for _, key := range []string{"fetch.timeout", "extract.timeout", "ai.provider_timeout", "ml.train_timeout", "settings.cache_ttl", "grading.lease"} {
		value, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if value <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", key)
		}
		durations[key] = value
	}

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		NATSURL:     v.GetString("nats.url"),
		JWTSecret:   v.GetString("jwt.secret"),

		StorageProvider:     strings.ToLower(strings.TrimSpace(v.GetString("storage.provider"))),
		OSSEndpoint:         v.GetString("oss.endpoint"),
		OSSAccessKey:        v.GetString("oss.access_key"),
		OSSSecretKey:        v.GetString("oss.secret_key"),
		OSSSecurityToken:    v.GetString("oss.security_token"),
		OSSBucket:           v.GetString("oss.bucket"),
		CloudinaryCloudName: v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:    v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret: v.GetString("cloudinary.api_secret"),
		CloudinaryFolder:    v.GetString("cloudinary.folder"),
		CloudinaryAssetType: v.GetString("cloudinary.asset_type"),
		UploadDir:           v.GetString("upload.dir"),
		UploadURLPrefix:     v.GetString("upload.url_prefix"),
		FetchTimeout:        durations["fetch.timeout"],
		FetchMaxBytes:       v.GetInt64("fetch.max_bytes"),
		ExtractTimeout:      durations["extract.timeout"],

		AIProviderTimeout: durations["ai.provider_timeout"],
		MLTrainTimeout:    durations["ml.train_timeout"],
		GeminiAPIKey:      v.GetString("gemini.api_key"),
		GeminiBaseURL:     v.GetString("gemini.base_url"),
		GeminiModel:       v.GetString("gemini.model"),
		MLAPIURL:          v.GetString("ml.api_url"),
		AIBothOrder:       v.GetString("ai.both_order"),
		AILowConfidence:   v.GetFloat64("ai.low_confidence"),
		SettingsCacheTTL:  durations["settings.cache_ttl"],

		GradingLease:        durations["grading.lease"],
		GradingMaxAttempts:  v.GetInt("grading.max_attempts"),
		GradingConcurrency:  v.GetInt("grading.concurrency"),
		GradingErrorMarkers: ParseErrorMarkers(v.GetString("grading.error_markers")),
		GradingLetterScale:  v.GetString("grading.letter_scale"),
		GradingDefaultPass:  v.GetFloat64("grading.default_pass"),
		GradingEventSubject: v.GetString("grading.event_subject"),

		SweepCron:  strings.TrimSpace(v.GetString("sweep.cron")),
		ClearCron:  strings.TrimSpace(v.GetString("clear.cron")),
		SweepLimit: v.GetInt("sweep.limit"),
	}

	switch cfg.StorageProvider {
	case StorageOSS, StorageCloudinary, StorageNone:
	case "":
		cfg.StorageProvider = StorageNone
	default:
		return Config{}, fmt.Errorf("unsupported storage provider %q", cfg.StorageProvider)
	}

	if cfg.GradingMaxAttempts <= 0 {
		cfg.GradingMaxAttempts = 3
	}
	if cfg.GradingConcurrency <= 0 {
		cfg.GradingConcurrency = 4
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 50
	}
	if cfg.AILowConfidence < 0 || cfg.AILowConfidence > 1 {
		return Config{}, fmt.Errorf("ai low confidence must be between 0 and 1")
	}

	return cfg, nil
}

// ParseErrorMarkers reads marker groups separated by ";" whose substrings are joined by "+",
// e.g. "Cannot+PDF;could not read file". An empty value yields nil so callers keep their defaults.
func ParseErrorMarkers(value string) [][]string {
	var groups [][]string
	for _, rawGroup := range strings.Split(value, ";") {
		var group []string
		for _, marker := range strings.Split(rawGroup, "+") {
			if marker = strings.TrimSpace(marker); marker != "" {
				group = append(group, marker)
			}
		}
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}
