// Package config provides the configuration structure for the tts-lambda handler.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables read by Load.
const (
	EnvProjectTOML           = "PROJECT_TOML"
	EnvConfigFile            = "TTS_CONFIG_FILE"
	EnvBucket                = "S3_BUCKET"
	EnvRegion                = "AWS_REGION"
	EnvVoice                 = "TTS_VOICE"
	EnvURLExpirySeconds      = "TTS_URL_EXPIRY_SECONDS"
	EnvStagingDir            = "TTS_STAGING_DIR"
	EnvMaxTextLength         = "TTS_MAX_TEXT_LENGTH"
	EnvLogDir                = "TTS_LOG_DIR"
	EnvLocalAddr             = "TTS_LOCAL_ADDR"
	EnvNATSURL               = "NATS_URL"
	EnvNATSAudioCreatedTopic = "NATS_AUDIO_CREATED_SUBJECT"
)

// Defaults.
const (
	DefaultVoice               = "Joanna"
	DefaultURLExpirySeconds    = 3600
	DefaultLocalAddr           = ":8080"
	DefaultAudioCreatedSubject = "audio.chunk.created"
	maxURLExpirySeconds        = 7 * 24 * 60 * 60
)

var (
	// ErrBucketEmpty indicates that no target bucket was configured.
	ErrBucketEmpty = errors.New("storage bucket cannot be empty")
	// ErrURLExpiryRange indicates that the presigned URL expiry is out of range.
	ErrURLExpiryRange = errors.New("url expiry must be between 1 second and 7 days")
	// ErrMaxTextLengthNegative indicates a negative maximum text length.
	ErrMaxTextLengthNegative = errors.New("max text length must be non-negative")
	// ErrInvalidEnvValue indicates an environment variable that could not be parsed.
	ErrInvalidEnvValue = errors.New("invalid environment value")
)

// StorageConfig holds the configuration for the artifact bucket.
type StorageConfig struct {
	Bucket           string `toml:"bucket"`
	Region           string `toml:"region"`
	URLExpirySeconds int    `toml:"url_expiry_seconds"`
}

// TTSConfig holds the configuration for speech synthesis.
type TTSConfig struct {
	Voice         string `toml:"voice"`
	MaxTextLength int    `toml:"max_text_length"`
}

// NATSConfig holds the configuration for completion events. An empty URL disables them.
type NATSConfig struct {
	URL                 string `toml:"url"`
	AudioCreatedSubject string `toml:"audio_created_subject"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	StagingDir  string `toml:"staging_dir"`
	BaseLogsDir string `toml:"base_logs_dir"`
}

// LocalConfig holds the configuration for the local development server.
type LocalConfig struct {
	Addr string `toml:"addr"`
}

// Config is the root configuration structure.
type Config struct {
	Storage StorageConfig `toml:"storage"`
	TTS     TTSConfig     `toml:"tts"`
	NATS    NATSConfig    `toml:"nats"`
	Paths   PathsConfig   `toml:"paths"`
	Local   LocalConfig   `toml:"local"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Bucket:           "",
			Region:           "",
			URLExpirySeconds: DefaultURLExpirySeconds,
		},
		TTS: TTSConfig{
			Voice:         DefaultVoice,
			MaxTextLength: 0,
		},
		NATS: NATSConfig{
			URL:                 "",
			AudioCreatedSubject: DefaultAudioCreatedSubject,
		},
		Paths: PathsConfig{
			StagingDir:  os.TempDir(),
			BaseLogsDir: os.TempDir(),
		},
		Local: LocalConfig{
			Addr: DefaultLocalAddr,
		},
	}
}

// URLExpiry returns the presigned URL lifetime.
func (c *Config) URLExpiry() time.Duration {
	return time.Duration(c.Storage.URLExpirySeconds) * time.Second
}

// Validate checks that the configuration can serve requests.
func (c *Config) Validate() error {
	if c.Storage.Bucket == "" {
		return fmt.Errorf("%w: set %s", ErrBucketEmpty, EnvBucket)
	}

	if c.Storage.URLExpirySeconds <= 0 || c.Storage.URLExpirySeconds > maxURLExpirySeconds {
		return fmt.Errorf("%w: got %d", ErrURLExpiryRange, c.Storage.URLExpirySeconds)
	}

	if c.TTS.MaxTextLength < 0 {
		return fmt.Errorf("%w: got %d", ErrMaxTextLengthNegative, c.TTS.MaxTextLength)
	}

	return nil
}

// Load loads the configuration for the tts-lambda handler.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	if os.Getenv(EnvProjectTOML) != "" {
		err := configurator.Load(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
		}
	}

	path := os.Getenv(EnvConfigFile)
	if path != "" {
		err := LoadFile(path, cfg)
		if err != nil {
			return nil, err
		}
	}

	err := applyEnv(cfg)
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile decodes a TOML file over cfg. Keys missing from the file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	err = toml.Unmarshal(data, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}

	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Storage.Bucket, EnvBucket)
	setString(&cfg.Storage.Region, EnvRegion)
	setString(&cfg.TTS.Voice, EnvVoice)
	setString(&cfg.Paths.StagingDir, EnvStagingDir)
	setString(&cfg.Paths.BaseLogsDir, EnvLogDir)
	setString(&cfg.Local.Addr, EnvLocalAddr)
	setString(&cfg.NATS.URL, EnvNATSURL)
	setString(&cfg.NATS.AudioCreatedSubject, EnvNATSAudioCreatedTopic)

	err := setInt(&cfg.Storage.URLExpirySeconds, EnvURLExpirySeconds)
	if err != nil {
		return err
	}

	return setInt(&cfg.TTS.MaxTextLength, EnvMaxTextLength)
}

func setString(target *string, key string) {
	value, ok := os.LookupEnv(key)
	if ok && value != "" {
		*target = value
	}
}

func setInt(target *int, key string) error {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalidEnvValue, key, value)
	}

	*target = parsed

	return nil
}
