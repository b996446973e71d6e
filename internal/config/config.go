package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr            string
	GRPCAddr            string
	Env                 string
	LogLevel            string
	APIBaseURL          string
	APITimeout          time.Duration
	JWTPublicKey        string
	JWTSecret           string
	JWTIssuer           string
	ServiceAuthToken    string
	PrefsBackend        string
	RedisAddr           string
	RedisPassword       string
	DatabaseURL         string
	SessionTTL          time.Duration
	SessionCapacity     int
	SessionCookieSecure bool
	RoutesFile          string
	StrictActions       bool
	SelectorCacheSize   int
	ExpirySweepInterval time.Duration
	AllowedOrigins      []string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is read first when present; real variables win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	publicKey, err := getenvFile("JWT_PUBLIC_KEY")
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		HTTPAddr:            getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:            getenv("GRPC_ADDR", ":9090"),
		Env:                 getenv("ENV", "development"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		APIBaseURL:          getenv("API_BASE_URL", "http://localhost:3000/api"),
		APITimeout:          getenvDuration("API_TIMEOUT", 10*time.Second),
		JWTPublicKey:        publicKey,
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTIssuer:           os.Getenv("JWT_ISSUER"),
		ServiceAuthToken:    os.Getenv("SERVICE_AUTH_TOKEN"),
		PrefsBackend:        getenv("PREFS_BACKEND", "memory"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		SessionTTL:          getenvDuration("SESSION_TTL", 12*time.Hour),
		SessionCapacity:     getenvInt("SESSION_CAPACITY", 10000),
		SessionCookieSecure: getenvBool("SESSION_COOKIE_SECURE", false),
		RoutesFile:          os.Getenv("ROUTES_FILE"),
		StrictActions:       getenvBool("STRICT_ACTIONS", false),
		SelectorCacheSize:   getenvInt("SELECTOR_CACHE_SIZE", 32),
		ExpirySweepInterval: getenvDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
		AllowedOrigins:      getenvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}
	return cfg, cfg.Validate()
}

func (c Config) Production() bool {
	return c.Env == "production"
}

func (c Config) Validate() error {
	switch c.PrefsBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("PREFS_BACKEND=redis requires REDIS_ADDR")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("PREFS_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("PREFS_BACKEND %q is not one of memory, redis, postgres", c.PrefsBackend)
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.Production() && !c.SessionCookieSecure {
		return fmt.Errorf("SESSION_COOKIE_SECURE must be set in production")
	}
	if c.SessionCapacity <= 0 || c.SelectorCacheSize <= 0 {
		return fmt.Errorf("SESSION_CAPACITY and SELECTOR_CACHE_SIZE must be positive")
	}
	if c.ExpirySweepInterval <= 0 {
		return fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getenvFile reads key, or the file named by key_FILE when key is unset.
func getenvFile(key string) (string, error) {
	if val := os.Getenv(key); val != "" {
		return val, nil
	}
	path := os.Getenv(key + "_FILE")
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s_FILE: %w", key, err)
	}
	return string(data), nil
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
