package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendNative = "native"
	BackendONNX   = "onnx"
)

// Config holds server configuration. Every key can be set through an
// environment variable with the SKETCH_ prefix, e.g. SKETCH_HTTP_ADDR.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`

	// Backend selects the inference engine: "native" reads a JSON
	// checkpoint, "onnx" runs an exported graph through onnxruntime.
	Backend string `mapstructure:"backend"`

	CheckpointPath string `mapstructure:"checkpoint_path"`

	ONNXModelPath    string `mapstructure:"onnx_model_path"`
	ONNXMetadataPath string `mapstructure:"onnx_metadata_path"`
	ONNXRuntimeLib   string `mapstructure:"onnxruntime_lib"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

var defaults = map[string]any{
	"http_addr":          ":3001",
	"backend":            BackendNative,
	"checkpoint_path":    "models/sketch_model.json",
	"onnx_model_path":    "models/sketch_model.onnx",
	"onnx_metadata_path": "models/sketch_model_metadata.json",
	"onnxruntime_lib":    "",
	"log_level":          "info",
	"log_format":         "json",
	"max_upload_bytes":   int64(10 << 20),
	"shutdown_timeout":   10 * time.Second,
}

// Load reads .env (if present), an optional config file named by
// SKETCH_CONFIG, and SKETCH_* environment variables, in increasing
// precedence.
func Load() (*Config, error) {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("SKETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendNative:
		if c.CheckpointPath == "" {
			return fmt.Errorf("checkpoint_path is required for the %s backend", c.Backend)
		}
	case BackendONNX:
		if c.ONNXModelPath == "" || c.ONNXMetadataPath == "" {
			return fmt.Errorf("onnx_model_path and onnx_metadata_path are required for the %s backend", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendNative, BackendONNX)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}
