package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. VOICECAPTURE_OUTPUT_DIRECTORY.
const EnvPrefix = "VOICECAPTURE"

type Config struct {
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Transcode TranscodeConfig `mapstructure:"transcode" yaml:"transcode"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type AudioConfig struct {
	Backend     string  `mapstructure:"backend" yaml:"backend"`           // "malgo", "pipewire", "file", "auto"
	Device      string  `mapstructure:"device" yaml:"device"`             // substring of the device name, empty = system default
	InputFile   string  `mapstructure:"input_file" yaml:"input_file"`     // WAV file replayed by the file backend
	Realtime    bool    `mapstructure:"realtime" yaml:"realtime"`         // pace the file backend at its sample rate
	Resampler   string  `mapstructure:"resampler" yaml:"resampler"`       // "linear", "sinc"
	RingSeconds float64 `mapstructure:"ring_seconds" yaml:"ring_seconds"` // capture buffer between callback and normalizer
}

type OutputConfig struct {
	Directory          string `mapstructure:"directory" yaml:"directory"`
	Prefix             string `mapstructure:"prefix" yaml:"prefix"`
	MaxDurationSeconds int    `mapstructure:"max_duration_seconds" yaml:"max_duration_seconds"`
}

type SessionConfig struct {
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout" yaml:"finalize_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MinFileSize     int64         `mapstructure:"min_file_size" yaml:"min_file_size"`
	FrameQueue      int           `mapstructure:"frame_queue" yaml:"frame_queue"`
}

type TranscodeConfig struct {
	Command string `mapstructure:"command" yaml:"command"`
	Codec   string `mapstructure:"codec" yaml:"codec"`
	Bitrate string `mapstructure:"bitrate" yaml:"bitrate"`
	Format  string `mapstructure:"format" yaml:"format"`
	Auto    bool   `mapstructure:"auto" yaml:"auto"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

var validResamplers = []string{"linear", "sinc"}
var validBackends = []string{"auto", "malgo", "pipewire", "file"}

// DefaultPath returns the config file used when --config is not given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/voicecapture.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.backend", "auto")
	v.SetDefault("audio.device", "")
	v.SetDefault("audio.input_file", "")
	v.SetDefault("audio.realtime", true)
	v.SetDefault("audio.resampler", "linear")
	v.SetDefault("audio.ring_seconds", 2.0)

	v.SetDefault("output.directory", filepath.Join(os.Getenv("HOME"), "Audio", "VoiceCapture"))
	v.SetDefault("output.prefix", "voice")
	v.SetDefault("output.max_duration_seconds", 300)

	v.SetDefault("session.finalize_timeout", "5s")
	v.SetDefault("session.poll_interval", "100ms")
	v.SetDefault("session.min_file_size", 100)
	v.SetDefault("session.frame_queue", 64)

	v.SetDefault("transcode.command", "ffmpeg")
	v.SetDefault("transcode.codec", "libopus")
	v.SetDefault("transcode.bitrate", "32k")
	v.SetDefault("transcode.format", "ogg")
	v.SetDefault("transcode.auto", false)

	v.SetDefault("server.port", "8080")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Default returns the configuration with no file and no environment applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("invalid built-in defaults: %v", err))
	}
	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	return &cfg
}

// Load resolves configuration from defaults, the YAML file and VOICECAPTURE_*
// environment variables, in increasing priority. A missing file is only an
// error when required is set.
func Load(configFile string, required bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			missing := errors.Is(err, os.ErrNotExist)
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				missing = true
			}
			if !missing || required {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	cfg.Audio.InputFile = expandPath(cfg.Audio.InputFile)
	cfg.Log.File = expandPath(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	if !contains(validBackends, strings.ToLower(c.Audio.Backend)) {
		errs = append(errs, fmt.Errorf("audio.backend: invalid value '%s' (must be one of %s)", c.Audio.Backend, strings.Join(validBackends, ", ")))
	}
	if strings.EqualFold(c.Audio.Backend, "file") && c.Audio.InputFile == "" {
		errs = append(errs, errors.New("audio.input_file: required when audio.backend is 'file'"))
	}
	if !contains(validResamplers, strings.ToLower(c.Audio.Resampler)) {
		errs = append(errs, fmt.Errorf("audio.resampler: invalid value '%s' (must be one of %s)", c.Audio.Resampler, strings.Join(validResamplers, ", ")))
	}
	if c.Audio.RingSeconds <= 0 {
		errs = append(errs, fmt.Errorf("audio.ring_seconds: must be positive, got %v", c.Audio.RingSeconds))
	}

	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output.directory: required"))
	}
	if c.Output.Prefix == "" || strings.ContainsAny(c.Output.Prefix, `/\`) {
		errs = append(errs, fmt.Errorf("output.prefix: invalid value '%s'", c.Output.Prefix))
	}
	if c.Output.MaxDurationSeconds <= 0 {
		errs = append(errs, fmt.Errorf("output.max_duration_seconds: must be positive, got %d", c.Output.MaxDurationSeconds))
	}

	if c.Session.FinalizeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.finalize_timeout: must be positive, got %s", c.Session.FinalizeTimeout))
	}
	if c.Session.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.poll_interval: must be positive, got %s", c.Session.PollInterval))
	}
	if c.Session.MinFileSize < 0 {
		errs = append(errs, fmt.Errorf("session.min_file_size: must not be negative, got %d", c.Session.MinFileSize))
	}
	if c.Session.FrameQueue <= 0 {
		errs = append(errs, fmt.Errorf("session.frame_queue: must be positive, got %d", c.Session.FrameQueue))
	}

	return errors.Join(errs...)
}

// UpdateValue writes a single key back to the config file
func UpdateValue(configFile, key string, value interface{}) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set(key, value)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
