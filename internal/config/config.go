package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Runtime selects where model inference happens.
const (
	RuntimeONNX = "onnx"
	RuntimeGRPC = "grpc"
)

// Config is the full service configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Inference Inference `yaml:"inference"`
	LeafGate  LeafGate  `yaml:"leafGate"`
	Disease   Model     `yaml:"disease"`
	Redis     Redis     `yaml:"redis"`
	Database  Database  `yaml:"database"`
	Auth      Auth      `yaml:"auth"`
	Debug     bool      `yaml:"debug"`
}

type Server struct {
	Addr              string        `yaml:"addr" validate:"required"`
	TempDir           string        `yaml:"tempDir" validate:"required"`
	MaxUploadBytes    int64         `yaml:"maxUploadBytes" validate:"gt=0"`
	MaxImagePixels    int64         `yaml:"maxImagePixels" validate:"gt=0"`
	IncludeConfidence bool          `yaml:"includeConfidence"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout" validate:"gt=0"`
}

// Inference selects and configures the model runtime shared by both models.
type Inference struct {
	Runtime           string `yaml:"runtime" validate:"oneof=onnx grpc"`
	SharedLibraryPath string `yaml:"sharedLibraryPath"`
	ServerAddr        string `yaml:"serverAddr" validate:"required_if=Runtime grpc"`
}

// Model describes one model artifact and how its input tensor is laid out.
type Model struct {
	// Path is the ONNX file for the onnx runtime and the model name for grpc.
	Path       string `yaml:"path" validate:"required"`
	InputName  string `yaml:"inputName" validate:"required"`
	OutputName string `yaml:"outputName" validate:"required"`
	ImageSize  int    `yaml:"imageSize" validate:"gt=0"`
	Layout     string `yaml:"layout" validate:"oneof=nhwc nchw"`
	Classes    int64  `yaml:"classes" validate:"gt=0"`
}

type LeafGate struct {
	Model              `yaml:",inline"`
	LabelsPath         string `yaml:"labelsPath" validate:"required"`
	TopK               int    `yaml:"topK" validate:"gt=0"`
	Keyword            string `yaml:"keyword" validate:"required"`
	RejectWhenDetected bool   `yaml:"rejectWhenDetected"`
}

type Redis struct {
	Addr string        `yaml:"addr"`
	TTL  time.Duration `yaml:"ttl"`
}

type Database struct {
	DSN string `yaml:"dsn"`
}

type Auth struct {
	JWTSecret   string `yaml:"jwtSecret"`
	JWTAudience string `yaml:"jwtAudience"`
}

// Default returns a configuration that serves a local ONNX setup from ./models.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:              ":8080",
			TempDir:           "temp",
			MaxUploadBytes:    10 << 20,
			MaxImagePixels:    89_478_485,
			IncludeConfidence: true,
			ShutdownTimeout:   15 * time.Second,
		},
		Inference: Inference{
			Runtime: RuntimeONNX,
		},
		LeafGate: LeafGate{
			Model: Model{
				Path:       "models/mobilenet_v2.onnx",
				InputName:  "input_1",
				OutputName: "predictions",
				ImageSize:  224,
				Layout:     "nhwc",
				Classes:    1000,
			},
			LabelsPath:         "models/imagenet_labels.txt",
			TopK:               3,
			Keyword:            "leaf",
			RejectWhenDetected: true,
		},
		Disease: Model{
			Path:       "models/plant_disease_prediction_model.onnx",
			InputName:  "input_1",
			OutputName: "dense_1",
			ImageSize:  224,
			Layout:     "nhwc",
			Classes:    38,
		},
		Redis: Redis{
			TTL: 10 * time.Minute,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ADDR":              &c.Server.Addr,
		"TEMP_DIR":          &c.Server.TempDir,
		"REDIS_ADDR":        &c.Redis.Addr,
		"DATABASE_DSN":      &c.Database.DSN,
		"JWT_SECRET":        &c.Auth.JWTSecret,
		"JWT_AUDIENCE":      &c.Auth.JWTAudience,
		"MODEL_SERVER_ADDR": &c.Inference.ServerAddr,
		"ONNXRUNTIME_LIB":   &c.Inference.SharedLibraryPath,
		"INFERENCE_RUNTIME": &c.Inference.Runtime,
	}
	for key, target := range strs {
		if value, ok := lookup(key); ok && value != "" {
			*target = value
		}
	}

	if port, ok := lookup("PORT"); ok && port != "" {
		c.Server.Addr = ":" + port
	}

	bools := map[string]*bool{
		"INCLUDE_CONFIDENCE": &c.Server.IncludeConfidence,
		"DEBUG":              &c.Debug,
	}
	for key, target := range bools {
		value, ok := lookup(key)
		if !ok || value == "" {
			continue
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}
