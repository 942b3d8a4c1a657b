package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/makeasinger/videogen/internal/model"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Store        StoreConfig
	Dispatch     DispatchConfig
	Pipeline     PipelineConfig
	OpenAI       OpenAIConfig
	Image        MediaServiceConfig
	Speech       MediaServiceConfig
	Video        MediaServiceConfig
	R2           R2Config
	Mock         MockConfig
	Participants map[string]model.Participant
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type AuthConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	CreatePerHour int
}

// Store drivers
const (
	StoreDriverMemory = "memory"
	StoreDriverRedis  = "redis"
	StoreDriverSQLite = "sqlite"
)

type StoreConfig struct {
	Driver     string
	SQLitePath string
	RedisTTL   time.Duration
}

// Dispatch modes
const (
	DispatchInProcess = "inprocess"
	DispatchAsynq     = "asynq"
)

type DispatchConfig struct {
	Mode        string
	Concurrency int
}

type PipelineConfig struct {
	StageTimeout     time.Duration
	SceneConcurrency int
	StoryTemperature float64
	SceneTemperature float64
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// MediaServiceConfig describes one HTTP generation service (image, speech or video).
type MediaServiceConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	PollTimeout  time.Duration
	Width        int
	Height       int
	Steps        int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type MockConfig struct {
	Delay time.Duration
}

// Load reads config.yaml from the working directory or ./config, then
// applies environment overrides.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. An empty path searches
// the default locations and tolerates a missing file.
func LoadFrom(path string) (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("OPENAI_API_KEY")
	readSecret("IMAGE_API_KEY")
	readSecret("SPEECH_API_KEY")
	readSecret("VIDEO_API_KEY")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("auth.enabled", "AUTH_ENABLED")
	_ = v.BindEnv("ratelimit.create_per_hour", "RATELIMIT_CREATE_PER_HOUR")
	_ = v.BindEnv("store.driver", "STORE_DRIVER")
	_ = v.BindEnv("store.sqlite_path", "STORE_SQLITE_PATH")
	_ = v.BindEnv("store.redis_ttl_hours", "STORE_REDIS_TTL_HOURS")
	_ = v.BindEnv("dispatch.mode", "DISPATCH_MODE")
	_ = v.BindEnv("dispatch.concurrency", "DISPATCH_CONCURRENCY")
	_ = v.BindEnv("pipeline.stage_timeout_seconds", "PIPELINE_STAGE_TIMEOUT_SECONDS")
	_ = v.BindEnv("pipeline.scene_concurrency", "PIPELINE_SCENE_CONCURRENCY")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("openai.model", "OPENAI_MODEL")
	_ = v.BindEnv("image.base_url", "IMAGE_SERVICE_URL")
	_ = v.BindEnv("image.api_key", "IMAGE_API_KEY")
	_ = v.BindEnv("speech.base_url", "SPEECH_SERVICE_URL")
	_ = v.BindEnv("speech.api_key", "SPEECH_API_KEY")
	_ = v.BindEnv("video.base_url", "VIDEO_SERVICE_URL")
	_ = v.BindEnv("video.api_key", "VIDEO_API_KEY")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("mock.delay_ms", "MOCK_DELAY_MS")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && path != "" {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("ratelimit.create_per_hour", 20)

	v.SetDefault("store.driver", StoreDriverMemory)
	v.SetDefault("store.sqlite_path", "statuses/progress.db")
	v.SetDefault("store.redis_ttl_hours", 24)

	v.SetDefault("dispatch.mode", DispatchInProcess)
	v.SetDefault("dispatch.concurrency", 4)

	v.SetDefault("pipeline.stage_timeout_seconds", 600)
	v.SetDefault("pipeline.scene_concurrency", 4)
	v.SetDefault("pipeline.story_temperature", 0.9)
	v.SetDefault("pipeline.scene_temperature", 0.9)

	// OpenAI defaults
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")

	// Media service defaults
	for _, svc := range []string{"image", "speech", "video"} {
		v.SetDefault(svc+".poll_interval_ms", 2000)
		v.SetDefault(svc+".poll_timeout_seconds", 600)
	}
	v.SetDefault("image.width", 1024)
	v.SetDefault("image.height", 576)
	v.SetDefault("image.steps", 30)

	v.SetDefault("mock.delay_ms", 2000)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Auth: AuthConfig{
			Enabled: v.GetBool("auth.enabled"),
		},
		RateLimit: RateLimitConfig{
			CreatePerHour: v.GetInt("ratelimit.create_per_hour"),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(v.GetString("store.driver")),
			SQLitePath: v.GetString("store.sqlite_path"),
			RedisTTL:   time.Duration(v.GetInt("store.redis_ttl_hours")) * time.Hour,
		},
		Dispatch: DispatchConfig{
			Mode:        strings.ToLower(v.GetString("dispatch.mode")),
			Concurrency: v.GetInt("dispatch.concurrency"),
		},
		Pipeline: PipelineConfig{
			StageTimeout:     time.Duration(v.GetInt("pipeline.stage_timeout_seconds")) * time.Second,
			SceneConcurrency: v.GetInt("pipeline.scene_concurrency"),
			StoryTemperature: v.GetFloat64("pipeline.story_temperature"),
			SceneTemperature: v.GetFloat64("pipeline.scene_temperature"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  v.GetString("openai.api_key"),
			BaseURL: v.GetString("openai.base_url"),
			Model:   v.GetString("openai.model"),
		},
		Image:  mediaService(v, "image"),
		Speech: mediaService(v, "speech"),
		Video:  mediaService(v, "video"),
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Mock: MockConfig{
			Delay: time.Duration(v.GetInt("mock.delay_ms")) * time.Millisecond,
		},
	}

	participants, err := loadParticipants(v)
	if err != nil {
		return nil, err
	}
	cfg.Participants = participants

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// participantEntry is one configured character. Participants are a list
// rather than a map because viper folds map keys to lower case, and
// participant ids are matched exactly.
type participantEntry struct {
	ID       string `mapstructure:"id"`
	ModelRef string `mapstructure:"model_ref"`
	VoiceID  string `mapstructure:"voice_id"`
}

func loadParticipants(v *viper.Viper) (map[string]model.Participant, error) {
	var entries []participantEntry
	if err := v.UnmarshalKey("participants", &entries); err != nil {
		return nil, fmt.Errorf("failed to parse participants (expected a list of {id, model_ref, voice_id}): %w", err)
	}

	participants := make(map[string]model.Participant, len(entries))
	for i, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("participant %d has no id", i)
		}
		if _, dup := participants[id]; dup {
			return nil, fmt.Errorf("participant %q is configured twice", id)
		}
		participants[id] = model.Participant{ModelRef: e.ModelRef, VoiceID: e.VoiceID}
	}
	return participants, nil
}

func mediaService(v *viper.Viper, name string) MediaServiceConfig {
	return MediaServiceConfig{
		BaseURL:      v.GetString(name + ".base_url"),
		APIKey:       v.GetString(name + ".api_key"),
		PollInterval: time.Duration(v.GetInt(name+".poll_interval_ms")) * time.Millisecond,
		PollTimeout:  time.Duration(v.GetInt(name+".poll_timeout_seconds")) * time.Second,
		Width:        v.GetInt(name + ".width"),
		Height:       v.GetInt(name + ".height"),
		Steps:        v.GetInt(name + ".steps"),
	}
}

// Validate rejects option combinations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverMemory, StoreDriverRedis, StoreDriverSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Dispatch.Mode {
	case DispatchInProcess, DispatchAsynq:
	default:
		return fmt.Errorf("unknown dispatch mode %q", c.Dispatch.Mode)
	}
	if c.Store.Driver == StoreDriverSQLite && strings.TrimSpace(c.Store.SQLitePath) == "" {
		return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
	}
	if c.Pipeline.SceneConcurrency < 1 {
		c.Pipeline.SceneConcurrency = 1
	}
	if c.Dispatch.Concurrency < 1 {
		c.Dispatch.Concurrency = 1
	}
	return nil
}
