package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName             string
	AppEnv              string
	AppPort             string
	DatabaseURL         string
	RedisURL            string
	NATSURL             string
	ChannelBase         string
	JWTSecret           string
	CISharedSecret      string
	SchedulerEnabled    bool
	SchedulerFanOut     int
	LockLimit           int
	ComplaintWindow     time.Duration
	ClaimTTL            time.Duration
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	BuildLogFolder      string
	DockerHost          string
	BuildTimeout        time.Duration
	BuildMemoryMB       int
	BuildCPUShares      int
	BuildConcurrency    int
	GradingURL          string
	GitLabURL           string
	GitLabToken         string
	CORSOrigins         []string
	MetricsToken        string
	DBMaxOpenConns      int
	DBMaxIdleConns      int
	DBConnMaxLifetime   time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Development reports whether the service runs on a developer machine.
func (c Config) Development() bool {
	return c.AppEnv == "" || c.AppEnv == "development"
}

// ArchiveEnabled reports whether build logs can be uploaded to Cloudinary.
func (c Config) ArchiveEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "gema:grading")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.fan_out", 8)
	v.SetDefault("assessment.lock_limit", 10)
	v.SetDefault("complaint.window", "168h")
	v.SetDefault("claim.ttl", "30s")
	v.SetDefault("cloudinary.folder", "gema/build-logs")
	v.SetDefault("build.timeout_ms", 300000)
	v.SetDefault("build.memory_mb", 1024)
	v.SetDefault("build.cpu_shares", 1024)
	v.SetDefault("build.concurrency", 2)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("grading.url", "http://localhost:8080/api/v1/public/programming-exercises/new-result")

	window, err := parseDuration(v, "complaint.window", 7*24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	claimTTL, err := parseDuration(v, "claim.ttl", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	connLifetime, err := parseDuration(v, "database.conn_max_lifetime", 30*time.Minute)
	if err != nil {
		return Config{}, err
	}

	timeoutMs := v.GetInt("build.timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 300000
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		AppPort:             v.GetString("app.port"),
		DatabaseURL:         v.GetString("database.url"),
		RedisURL:            v.GetString("redis.url"),
		NATSURL:             v.GetString("nats.url"),
		ChannelBase:         v.GetString("channel.base"),
		JWTSecret:           v.GetString("jwt.secret"),
		CISharedSecret:      v.GetString("ci.shared_secret"),
		SchedulerEnabled:    v.GetBool("scheduler.enabled"),
		SchedulerFanOut:     v.GetInt("scheduler.fan_out"),
		LockLimit:           v.GetInt("assessment.lock_limit"),
		ComplaintWindow:     window,
		ClaimTTL:            claimTTL,
		CloudinaryCloudName: v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:    v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret: v.GetString("cloudinary.api_secret"),
		BuildLogFolder:      v.GetString("cloudinary.folder"),
		DockerHost:          v.GetString("docker_host"),
		BuildTimeout:        time.Duration(timeoutMs) * time.Millisecond,
		BuildMemoryMB:       v.GetInt("build.memory_mb"),
		BuildCPUShares:      v.GetInt("build.cpu_shares"),
		BuildConcurrency:    v.GetInt("build.concurrency"),
		GradingURL:          v.GetString("grading.url"),
		GitLabURL:           v.GetString("gitlab.url"),
		GitLabToken:         v.GetString("gitlab.token"),
		CORSOrigins:         splitList(v.GetString("cors.origins")),
		MetricsToken:        v.GetString("metrics.token"),
		DBMaxOpenConns:      v.GetInt("database.max_open_conns"),
		DBMaxIdleConns:      v.GetInt("database.max_idle_conns"),
		DBConnMaxLifetime:   connLifetime,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}
	if cfg.CISharedSecret == "" {
		return Config{}, fmt.Errorf("ci shared secret must be provided")
	}

	if cfg.SchedulerFanOut <= 0 {
		cfg.SchedulerFanOut = 8
	}
	if cfg.LockLimit <= 0 {
		cfg.LockLimit = 10
	}
	if cfg.BuildMemoryMB <= 0 {
		cfg.BuildMemoryMB = 1024
	}
	if cfg.BuildCPUShares <= 0 {
		cfg.BuildCPUShares = 1024
	}
	if cfg.BuildConcurrency <= 0 {
		cfg.BuildConcurrency = 2
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", strings.ReplaceAll(key, ".", " "), err)
	}
	if value <= 0 {
		return fallback, nil
	}
	return value, nil
}
