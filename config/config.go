// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// シーラーのバックエンド名。
const (
	SealerPassphrase = "passphrase"
	SealerGCPKMS     = "gcpkms"
	SealerTransit    = "transit"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	DatabaseURL        string
	GoogleCloudProject string
	LogLevel           string

	OtelEnabled      bool
	OtelEndpoint     string
	OtelInsecure     bool
	OtelServiceName  string
	OtelSamplingRate float64

	// SealerBackend は秘密鍵を保管時に封印するバックエンド。
	SealerBackend    string
	MasterPassphrase string
	KDFSalt          string
	KMSKeyName       string
	TransitAddress   string
	TransitToken     string
	TransitMount     string
	TransitKeyName   string

	KeyAlgorithm           string
	KeyRSABits             int
	KeyGenTimeout          time.Duration
	KeyGenWorkers          int
	DirectoryLookupTimeout time.Duration
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),

		OtelEnabled:      getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelInsecure:     getEnvBool("OTEL_INSECURE", false),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "mailcrypt-service"),
		OtelSamplingRate: getEnvFloat("OTEL_SAMPLING_RATE", 1.0),

		SealerBackend:    getEnv("SEALER_BACKEND", SealerPassphrase),
		MasterPassphrase: os.Getenv("VAULT_MASTER_PASSPHRASE"),
		KDFSalt:          getEnv("VAULT_KDF_SALT", "mailcrypt-service/vault/v1"),
		KMSKeyName:       os.Getenv("KMS_KEY_NAME"),
		TransitAddress:   os.Getenv("TRANSIT_ADDRESS"),
		TransitToken:     os.Getenv("TRANSIT_TOKEN"),
		TransitMount:     getEnv("TRANSIT_MOUNT", "transit"),
		TransitKeyName:   os.Getenv("TRANSIT_KEY_NAME"),

		KeyAlgorithm:           getEnv("KEY_ALGORITHM", "rsa"),
		KeyRSABits:             getEnvInt("KEY_RSA_BITS", 4096),
		KeyGenTimeout:          getEnvDuration("KEYGEN_TIMEOUT", 2*time.Minute),
		KeyGenWorkers:          getEnvInt("KEYGEN_WORKERS", 2),
		DirectoryLookupTimeout: getEnvDuration("DIRECTORY_LOOKUP_TIMEOUT", 3*time.Second),
	}
}

// Validate はバックエンドごとの必須設定を検証する。
func (c *Config) Validate() error {
	switch c.SealerBackend {
	case SealerPassphrase:
		if c.MasterPassphrase == "" {
			return fmt.Errorf("VAULT_MASTER_PASSPHRASE is required for sealer %q", c.SealerBackend)
		}
	case SealerGCPKMS:
		if c.KMSKeyName == "" {
			return fmt.Errorf("KMS_KEY_NAME is required for sealer %q", c.SealerBackend)
		}
	case SealerTransit:
		if c.TransitAddress == "" || c.TransitKeyName == "" {
			return fmt.Errorf("TRANSIT_ADDRESS and TRANSIT_KEY_NAME are required for sealer %q", c.SealerBackend)
		}
	default:
		return fmt.Errorf("unknown SEALER_BACKEND %q", c.SealerBackend)
	}

	switch c.KeyAlgorithm {
	case "rsa":
		if c.KeyRSABits < 3072 {
			return fmt.Errorf("KEY_RSA_BITS must be at least 3072, got %d", c.KeyRSABits)
		}
	case "curve25519":
	default:
		return fmt.Errorf("unknown KEY_ALGORITHM %q", c.KeyAlgorithm)
	}

	if c.KeyGenWorkers < 1 {
		return fmt.Errorf("KEYGEN_WORKERS must be positive, got %d", c.KeyGenWorkers)
	}
	return nil
}

// LogValue は秘密値を伏せた設定をログ出力用に返す。
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("port", c.Port),
		slog.String("log_level", c.LogLevel),
		slog.Bool("otel_enabled", c.OtelEnabled),
		slog.String("sealer_backend", c.SealerBackend),
		slog.String("key_algorithm", c.KeyAlgorithm),
		slog.Int("keygen_workers", c.KeyGenWorkers),
		slog.Duration("keygen_timeout", c.KeyGenTimeout),
		slog.Duration("directory_lookup_timeout", c.DirectoryLookupTimeout),
	)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) int {
	val, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return val
}
