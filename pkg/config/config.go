package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	JWT            JWTConfig
	GigaChat       GigaChatConfig
	Vertex         VertexConfig
	GCP            GCPConfig
	Storage        StorageConfig
	Reconciliation ReconciliationConfig
	Audit          AuditConfig
	Logger         LoggerConfig
}

type LoggerConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ProcessTimeout bounds a single reconciliation run triggered over HTTP.
	ProcessTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type JWTConfig struct {
	SecretKey  string
	Expiration time.Duration
}

type GigaChatConfig struct {
	APIKey             string
	Scope              string
	Model              string
	InsecureSkipVerify bool
}

type VertexConfig struct {
	Enabled bool
	Region  string
	Model   string
}

type GCPConfig struct {
	ProjectID       string
	CredentialsFile string
}

type StorageConfig struct {
	// Backend is "local" or "gcs".
	Backend   string
	LocalRoot string
	Bucket    string
}

// ReconciliationConfig holds the tunable thresholds of the reconciliation
// pipeline. Policy values here are the platform fallback used when the
// policy store has no default row.
type ReconciliationConfig struct {
	DefaultMinConfidence          float64
	DefaultAllowReassignment      bool
	DefaultAllowTenantCreation    bool
	DefaultMaxTenantsPerAccount   int
	CandidateFloor                float64
	IdentityDisagreementThreshold float64
	DefaultProvider               string
	// MaxPages caps PDF length before extraction; zero disables the cap.
	MaxPages int
	// LockMode is "advisory" (Postgres) or "local" (in-process).
	LockMode string
}

type AuditConfig struct {
	// Sink is "postgres" or "firestore".
	Sink       string
	Collection string
}

func Load() (*Config, error) {
	// .env is optional; plain environment variables work too
	envFiles := []string{".env", "../.env", "../../.env"}
	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	readTimeout := getEnvInt("SERVER_READ_TIMEOUT", 30)
	writeTimeout := getEnvInt("SERVER_WRITE_TIMEOUT", 30)
	processTimeout := getEnvInt("SERVER_PROCESS_TIMEOUT", 120)
	jwtExp := getEnvInt("JWT_EXPIRATION_HOURS", 24)

	return &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    time.Duration(readTimeout) * time.Second,
			WriteTimeout:   time.Duration(writeTimeout) * time.Second,
			ProcessTimeout: time.Duration(processTimeout) * time.Second,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "finrecon"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		JWT: JWTConfig{
			SecretKey:  getEnv("JWT_SECRET_KEY", "your-secret-key-change-in-production"),
			Expiration: time.Duration(jwtExp) * time.Hour,
		},
		GigaChat: GigaChatConfig{
			APIKey:             getEnv("GIGACHAT_API_KEY", ""),
			Scope:              getEnv("GIGACHAT_SCOPE", "GIGACHAT_API_PERS"),
			Model:              getEnv("GIGACHAT_MODEL", "GigaChat"),
			InsecureSkipVerify: getEnvBool("GIGACHAT_INSECURE_SKIP_VERIFY", true),
		},
		Vertex: VertexConfig{
			Enabled: getEnvBool("VERTEX_ENABLED", false),
			Region:  getEnv("VERTEX_REGION", "us-central1"),
			Model:   getEnv("VERTEX_MODEL", "gemini-2.5-flash"),
		},
		GCP: GCPConfig{
			ProjectID:       getEnv("GCP_PROJECT_ID", ""),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
		Storage: StorageConfig{
			Backend:   getEnv("STORAGE_BACKEND", "local"),
			LocalRoot: getEnv("STORAGE_LOCAL_ROOT", "uploads"),
			Bucket:    getEnv("STORAGE_BUCKET", ""),
		},
		Reconciliation: ReconciliationConfig{
			DefaultMinConfidence:          getEnvFloat("RECON_MIN_CONFIDENCE", 0.85),
			DefaultAllowReassignment:      getEnvBool("RECON_ALLOW_REASSIGNMENT", true),
			DefaultAllowTenantCreation:    getEnvBool("RECON_ALLOW_TENANT_CREATION", false),
			DefaultMaxTenantsPerAccount:   getEnvInt("RECON_MAX_TENANTS_PER_ACCOUNT", 5),
			CandidateFloor:                getEnvFloat("RECON_CANDIDATE_FLOOR", 0.3),
			IdentityDisagreementThreshold: getEnvFloat("RECON_IDENTITY_DISAGREEMENT_THRESHOLD", 0.4),
			DefaultProvider:               getEnv("RECON_DEFAULT_PROVIDER", "gigachat"),
			MaxPages:                      getEnvInt("RECON_MAX_PAGES", 50),
			LockMode:                      getEnv("RECON_LOCK_MODE", "advisory"),
		},
		Audit: AuditConfig{
			Sink:       getEnv("AUDIT_SINK", "postgres"),
			Collection: getEnv("AUDIT_COLLECTION", "reconciliation_audit"),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultValue
}
