package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Storage  StorageConfig  `yaml:"storage"`
	Uploads  UploadsConfig  `yaml:"uploads"`
	Vision   VisionConfig   `yaml:"vision"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	Environment string `yaml:"environment"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// NATSConfig: an empty URL disables validation events.
type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// StorageConfig selects where face records and accepted files live.
type StorageConfig struct {
	Backend   string `yaml:"backend"`    // file | postgres
	DataDir   string `yaml:"data_dir"`   // file backend root
	Objects   string `yaml:"objects"`    // disk | minio
	UploadDir string `yaml:"upload_dir"` // disk objects root
}

type UploadsConfig struct {
	AllowedPhotoExtensions    []string `yaml:"allowed_photo_extensions"`
	AllowedDocumentExtensions []string `yaml:"allowed_document_extensions"`
	MaxPhotoSize              int64    `yaml:"max_photo_size"`
	MaxDocumentSize           int64    `yaml:"max_document_size"`
	MaxPixels                 int64    `yaml:"max_pixels"` // width*height; 0 disables
}

const (
	// DefaultMaxPixels is the usual decompression-bomb limit, 1024*1024*1024/4/3.
	DefaultMaxPixels = 89478485
	// DefaultSimilarityThreshold is a Euclidean distance between unit-length
	// ArcFace embeddings; 1.0 corresponds to cosine similarity 0.5.
	DefaultSimilarityThreshold = 1.0
)

type VisionConfig struct {
	Mode                string  `yaml:"mode"` // auto | face | hash
	ModelsDir           string  `yaml:"models_dir"`
	ONNXLibPath         string  `yaml:"onnx_lib_path"`
	DetectionThreshold  float64 `yaml:"detection_threshold"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MinFaceSize         int     `yaml:"min_face_size"`
	MinWidth            int     `yaml:"min_width"`
	MinHeight           int     `yaml:"min_height"`
	PadUndersized       bool    `yaml:"pad_undersized"`
	Workers             int     `yaml:"workers"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IsDevelopment reports whether development leniencies may apply.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// PadUndersizedImages reports whether undersized photos get padded instead of
// rejected. Production never pads.
func (c *Config) PadUndersizedImages() bool {
	return c.IsDevelopment() && c.Vision.PadUndersized
}

// Load reads config from YAML file, loads a .env file if present and applies
// environment variable overrides. A missing YAML file is not an error when
// path is empty.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Server.Environment {
	case EnvProduction, EnvDevelopment:
	default:
		return fmt.Errorf("invalid server.environment %q", c.Server.Environment)
	}
	switch c.Storage.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("invalid storage.backend %q", c.Storage.Backend)
	}
	switch c.Storage.Objects {
	case "disk", "minio":
	default:
		return fmt.Errorf("invalid storage.objects %q", c.Storage.Objects)
	}
	switch c.Vision.Mode {
	case "auto", "face", "hash":
	default:
		return fmt.Errorf("invalid vision.mode %q", c.Vision.Mode)
	}
	if c.Vision.SimilarityThreshold <= 0 {
		return fmt.Errorf("vision.similarity_threshold must be positive")
	}
	if c.Uploads.MaxPhotoSize <= 0 || c.Uploads.MaxDocumentSize <= 0 {
		return fmt.Errorf("upload size limits must be positive")
	}
	if c.Uploads.MaxPixels < 0 {
		return fmt.Errorf("uploads.max_pixels must not be negative")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = EnvProduction
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "uploads"
	}
	if cfg.Storage.Objects == "" {
		cfg.Storage.Objects = "disk"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "uploads"
	}
	if len(cfg.Uploads.AllowedPhotoExtensions) == 0 {
		cfg.Uploads.AllowedPhotoExtensions = []string{"jpg", "jpeg", "png", "bmp", "tiff", "webp"}
	}
	if len(cfg.Uploads.AllowedDocumentExtensions) == 0 {
		cfg.Uploads.AllowedDocumentExtensions = []string{"pdf", "jpg", "jpeg", "png"}
	}
	if cfg.Uploads.MaxPhotoSize == 0 {
		cfg.Uploads.MaxPhotoSize = 15 << 20
	}
	if cfg.Uploads.MaxDocumentSize == 0 {
		cfg.Uploads.MaxDocumentSize = 10 << 20
	}
	if cfg.Uploads.MaxPixels == 0 {
		cfg.Uploads.MaxPixels = DefaultMaxPixels
	}
	if cfg.Vision.Mode == "" {
		cfg.Vision.Mode = "auto"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.SimilarityThreshold == 0 {
		cfg.Vision.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.Vision.MinFaceSize == 0 {
		cfg.Vision.MinFaceSize = 50
	}
	if cfg.Vision.MinWidth == 0 {
		cfg.Vision.MinWidth = 200
	}
	if cfg.Vision.MinHeight == 0 {
		cfg.Vision.MinHeight = 200
	}
	if cfg.Vision.Workers == 0 {
		cfg.Vision.Workers = 2
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENROLL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ENROLL_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ENROLL_ENV"); v != "" {
		cfg.Server.Environment = strings.ToLower(v)
	}
	if v := os.Getenv("ENROLL_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ENROLL_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ENROLL_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ENROLL_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ENROLL_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ENROLL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ENROLL_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ENROLL_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ENROLL_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ENROLL_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ENROLL_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("ENROLL_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("ENROLL_UPLOAD_DIR"); v != "" {
		cfg.Storage.UploadDir = v
	}
	if v := os.Getenv("ENROLL_ALLOWED_PHOTO_EXTENSIONS"); v != "" {
		cfg.Uploads.AllowedPhotoExtensions = splitList(v)
	}
	if v := os.Getenv("ENROLL_MAX_PHOTO_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Uploads.MaxPhotoSize = n
		}
	}
	if v := os.Getenv("ENROLL_MAX_PIXELS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Uploads.MaxPixels = n
		}
	}
	if v := os.Getenv("ENROLL_VISION_MODE"); v != "" {
		cfg.Vision.Mode = v
	}
	if v := os.Getenv("ENROLL_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("ENROLL_ONNX_LIB"); v != "" {
		cfg.Vision.ONNXLibPath = v
	}
	if v := os.Getenv("ENROLL_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("ENROLL_MIN_FACE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.MinFaceSize = n
		}
	}
	if v := os.Getenv("ENROLL_MIN_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.MinWidth = n
		}
	}
	if v := os.Getenv("ENROLL_MIN_HEIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.MinHeight = n
		}
	}
	if v := os.Getenv("ENROLL_PAD_UNDERSIZED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Vision.PadUndersized = b
		}
	}
	if v := os.Getenv("ENROLL_VISION_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.Workers = n
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), ".")))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
