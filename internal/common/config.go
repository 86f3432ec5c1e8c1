package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	Extract  ExtractConfig
	Store    StoreConfig
}

// DatabaseConfig holds database-related configuration for the SQL record store
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	MaxRequestBytes int64
	ShutdownTimeout time.Duration
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Languages        []string
	DPI              int
	TessdataDir      string
	HeicConverter    string
	ArtifactCacheDir string
}

// ExtractConfig holds the text extraction limits
type ExtractConfig struct {
	MaxBytes      int64
	MaxPages      int
	Budget        time.Duration
	MinConfidence float32
	GCEveryPages  int
}

// StoreConfig holds the REST record store settings
type StoreConfig struct {
	URL        string
	Key        string
	Table      string
	BatchSize  int
	BatchPause time.Duration
	Timeout    time.Duration
	// IncludeAllergens also sends allergy_* fields to the store.
	IncludeAllergens bool
}

const (
	placeholderStoreURL = "your_supabase_url"
	placeholderStoreKey = "your_supabase_key"
)

// URLSet is false for an empty or placeholder store URL.
func (s StoreConfig) URLSet() bool { return s.URL != "" && s.URL != placeholderStoreURL }

// KeySet is false for an empty or placeholder store key.
func (s StoreConfig) KeySet() bool { return s.Key != "" && s.Key != placeholderStoreKey }

// Configured reports whether real store credentials are present.
func (s StoreConfig) Configured() bool { return s.URLSet() && s.KeySet() }

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":10000"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":10001"),
			MaxRequestBytes: getEnvAsInt64("HTTP_MAX_REQUEST_BYTES", 16<<20),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		OCR: OCRConfig{
			Languages:        getEnvAsList("OCR_LANGS", []string{"jpn", "chi_sim", "eng"}),
			DPI:              getEnvAsInt("OCR_DPI", 300),
			TessdataDir:      getEnv("TESSDATA_PREFIX", ""),
			HeicConverter:    getEnv("HEIC_CONVERTER", "magick"),
			ArtifactCacheDir: getEnv("ARTIFACT_CACHE_DIR", "./tmp"),
		},
		Extract: ExtractConfig{
			MaxBytes:      getEnvAsInt64("EXTRACT_MAX_BYTES", 10<<20),
			MaxPages:      getEnvAsInt("EXTRACT_MAX_PAGES", 50),
			Budget:        getEnvAsDuration("EXTRACT_BUDGET", 28*time.Second),
			MinConfidence: getEnvAsFloat32("OCR_MIN_CONFIDENCE", 0.6),
			GCEveryPages:  getEnvAsInt("GC_EVERY_PAGES", 10),
		},
		Store: StoreConfig{
			URL:        strings.TrimRight(getEnv("STORE_URL", ""), "/"),
			Key:        getEnv("STORE_KEY", ""),
			Table:      getEnv("STORE_TABLE", "products"),
			BatchSize:  getEnvAsInt("STORE_BATCH_SIZE", 100),
			BatchPause: getEnvAsDuration("STORE_BATCH_PAUSE", 50*time.Millisecond),
			Timeout:    getEnvAsDuration("STORE_TIMEOUT", 30*time.Second),

			IncludeAllergens: getEnvAsBool("STORE_INCLUDE_ALLERGENS", false),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator().
		Field("HTTP_ADDR", c.Server.HTTPAddr, Required).
		Field("STORE_TABLE", c.Store.Table, Required, MaxLength(63)).
		Field("HEIC_CONVERTER", c.OCR.HeicConverter, OneOf("heif-convert", "magick", "sips"))
	if err := v.Err(CodeConfig); err != nil {
		return err
	}
	if c.Extract.MaxBytes <= 0 {
		return NewAppError(CodeConfig, "EXTRACT_MAX_BYTES must be positive", ErrInvalidInput)
	}
	if c.Extract.MaxPages <= 0 {
		return NewAppError(CodeConfig, "EXTRACT_MAX_PAGES must be positive", ErrInvalidInput)
	}
	if c.Extract.MinConfidence < 0 || c.Extract.MinConfidence > 1 {
		return NewAppError(CodeConfig, fmt.Sprintf("OCR_MIN_CONFIDENCE must be within 0..1, got %v", c.Extract.MinConfidence), ErrInvalidInput)
	}
	if c.Store.BatchSize <= 0 {
		return NewAppError(CodeConfig, "STORE_BATCH_SIZE must be positive", ErrInvalidInput)
	}
	if len(c.OCR.Languages) == 0 {
		return NewAppError(CodeConfig, "OCR_LANGS must list at least one language", ErrInvalidInput)
	}
	return nil
}
